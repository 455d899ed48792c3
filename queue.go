/*
Copyright 2024 Recurra Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package recurra

import (
	"encoding/json"
	"log"
	"time"

	"github.com/hibiken/asynq"

	"github.com/recurrahq/recurra/config"
	redis_db "github.com/recurrahq/recurra/internal/redis-db"
	"github.com/recurrahq/recurra/model"
)

// Queue carries delayed dunning reminders and outbound email deliveries.
type Queue struct {
	Client    *asynq.Client
	Inspector *asynq.Inspector
}

// DunningTaskPayload is the payload for a scheduled dunning reminder task.
type DunningTaskPayload struct {
	AttemptID string `json:"attempt_id"`
	InvoiceID string `json:"invoice_id"`
}

func NewQueue(conf *config.Configuration) *Queue {
	redisOption, err := redis_db.ParseRedisURL(conf.Redis.Dns, conf.Redis.SkipTLSVerify)
	if err != nil {
		log.Fatalf("Error parsing Redis URL: %v", err)
	}

	queueOptions := asynq.RedisClientOpt{Addr: redisOption.Addr, Password: redisOption.Password, DB: redisOption.DB, TLSConfig: redisOption.TLSConfig}
	client := asynq.NewClient(queueOptions)
	inspector := asynq.NewInspector(queueOptions)
	return &Queue{
		Client:    client,
		Inspector: inspector,
	}
}

// EnqueueDunningAttempt schedules the reminder task to fire at the attempt's
// retry_at. The task id is the attempt id, so a redelivered failure event
// can never double-schedule the same reminder.
func (q *Queue) EnqueueDunningAttempt(attempt *model.DunningAttempt) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(DunningTaskPayload{AttemptID: attempt.AttemptID, InvoiceID: attempt.InvoiceID})
	if err != nil {
		return err
	}
	taskOptions := []asynq.Option{
		asynq.TaskID(attempt.AttemptID),
		asynq.Queue(cfg.Queue.DunningQueue),
		asynq.ProcessIn(time.Until(attempt.RetryAt)),
	}
	task := asynq.NewTask(cfg.Queue.DunningQueue, payload, taskOptions...)
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	log.Printf(" [*] Successfully enqueued dunning attempt: %+v", attempt.AttemptID)
	return nil
}

// CancelScheduledAttempt drops the pending reminder task for an attempt,
// used when a payment succeeds before the reminder fires. A task that is
// already gone is not an error.
func (q *Queue) CancelScheduledAttempt(attemptID string) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	err = q.Inspector.DeleteTask(cfg.Queue.DunningQueue, attemptID)
	if err != nil && err != asynq.ErrTaskNotFound && err != asynq.ErrQueueNotFound {
		return err
	}
	return nil
}

// EnqueueEmail queues an outbound email for the mailer worker.
func (q *Queue) EnqueueEmail(msg *EmailMessage) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	task := asynq.NewTask(cfg.Queue.EmailQueue, payload, asynq.Queue(cfg.Queue.EmailQueue))
	info, err := q.Client.Enqueue(task)
	if err != nil {
		log.Println(err, info)
		return err
	}
	return nil
}
