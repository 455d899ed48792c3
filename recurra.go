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
	"embed"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/database"
	redis_db "github.com/recurrahq/recurra/internal/redis-db"
)

// Recurra is the billing back-office service: it ingests payment-processor
// events, drives the subscription state machine and invoice lifecycle, and
// schedules dunning work.
type Recurra struct {
	queue      *Queue
	redis      redis.UniversalClient
	datasource database.IDataSource
	handlers   map[string]eventHandler
}

//go:embed sql/*.sql
var SQLFiles embed.FS

// NewRecurra initializes the service with the provided datasource, wiring
// the redis connection and the task queue from configuration.
func NewRecurra(db database.IDataSource) (*Recurra, error) {
	configuration, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	redisClient, err := redis_db.NewRedisClient([]string{fmt.Sprintf("redis://%s", configuration.Redis.Dns)}, configuration.Redis.SkipTLSVerify)
	if err != nil {
		return nil, err
	}
	newQueue := NewQueue(configuration)

	r := &Recurra{datasource: db, queue: newQueue, redis: redisClient.Client()}
	r.handlers = r.eventHandlers()
	return r, nil
}
