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
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/model"
)

// nextRetryAt returns the processor-facing retry timestamp for a failure
// observed at failedAt, given how many failures the invoice had before this
// one. Past the configured cap no further retry is recorded.
func nextRetryAt(failedAt time.Time, prevRetryCount int) *time.Time {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return nil
	}

	if prevRetryCount >= cfg.Dunning.MaxRetries || prevRetryCount >= len(cfg.Dunning.RetryOffsetsDays) {
		return nil
	}

	t := failedAt.AddDate(0, 0, cfg.Dunning.RetryOffsetsDays[prevRetryCount])
	return &t
}

// reminderAt returns when the local dunning reminder for a failure observed
// at failedAt should run.
func reminderAt(failedAt time.Time) time.Time {
	cfg, err := config.Fetch()
	if err != nil {
		logrus.Error(err)
		return failedAt.AddDate(0, 0, 3)
	}
	return failedAt.AddDate(0, 0, cfg.Dunning.ReminderHorizonDays)
}

// ProcessDunningAttempt is the asynq handler for a due reminder task. The
// invoice is re-read at execution time: a payment that landed between
// scheduling and execution abandons the attempt instead of dunning a
// customer who already paid.
func (r *Recurra) ProcessDunningAttempt(ctx context.Context, t *asynq.Task) error {
	var payload DunningTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return err
	}

	attempt, err := r.datasource.GetDunningAttempt(ctx, payload.AttemptID)
	if err != nil {
		return err
	}
	if attempt.Status != model.DunningStatusScheduled {
		logrus.WithFields(logrus.Fields{"attempt": attempt.AttemptID, "status": attempt.Status}).Info("dunning attempt no longer scheduled, skipping")
		return nil
	}

	inv, err := r.datasource.GetInvoiceByID(ctx, attempt.InvoiceID)
	if err != nil {
		return err
	}

	if inv.Status == model.InvoiceStatusPaid {
		return r.datasource.UpdateDunningAttemptStatus(ctx, attempt.AttemptID, model.DunningStatusAbandoned)
	}

	customer, err := r.datasource.GetCustomerByID(ctx, inv.CustomerID)
	if err != nil {
		return err
	}

	r.sendDunningEmail(customer, inv, attempt)

	if err := r.datasource.UpdateDunningAttemptStatus(ctx, attempt.AttemptID, model.DunningStatusExecuted); err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.InvoiceID,
		Kind:           "dunning_reminder_sent",
		Description:    fmt.Sprintf("payment reminder %d sent for invoice %s", attempt.AttemptNumber, inv.ExternalID),
	})
	return nil
}

// GetScheduledDunningAttempts lists pending reminders, soonest first.
func (r *Recurra) GetScheduledDunningAttempts(ctx context.Context, limit, offset int) ([]*model.DunningAttempt, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.datasource.GetScheduledAttempts(ctx, limit, offset)
}
