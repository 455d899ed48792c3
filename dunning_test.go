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
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/recurrahq/recurra/model"
)

func dunningTask(t *testing.T, attemptID, invoiceID string) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(DunningTaskPayload{AttemptID: attemptID, InvoiceID: invoiceID})
	assert.NoError(t, err)
	return asynq.NewTask("new:dunning", payload)
}

func scheduledAttempt() *model.DunningAttempt {
	return &model.DunningAttempt{
		AttemptID:      "dun_1",
		InvoiceID:      "inv_local_1",
		SubscriptionID: "sub_local_1",
		CustomerID:     "cust_1",
		AttemptNumber:  1,
		RetryAt:        time.Now(),
		Status:         model.DunningStatusScheduled,
	}
}

func TestProcessDunningAttempt_SendsReminder(t *testing.T) {
	r, ds := newTestRecurra(t)

	ds.On("GetDunningAttempt", mock.Anything, "dun_1").Return(scheduledAttempt(), nil)
	ds.On("GetInvoiceByID", mock.Anything, "inv_local_1").Return(openInvoice(1), nil)
	ds.On("GetCustomerByID", mock.Anything, "cust_1").
		Return(&model.Customer{CustomerID: "cust_1", Email: "ada@example.com", Name: "Ada"}, nil)
	ds.On("UpdateDunningAttemptStatus", mock.Anything, "dun_1", model.DunningStatusExecuted).Return(nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.MatchedBy(func(entry *model.BillingHistoryEntry) bool {
		return entry.Kind == "dunning_reminder_sent" && entry.InvoiceID == "inv_local_1"
	})).Return(nil)

	err := r.ProcessDunningAttempt(context.Background(), dunningTask(t, "dun_1", "inv_local_1"))
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestProcessDunningAttempt_PaidInvoiceAbandons(t *testing.T) {
	r, ds := newTestRecurra(t)

	paid := openInvoice(1)
	paid.Status = model.InvoiceStatusPaid
	ds.On("GetDunningAttempt", mock.Anything, "dun_1").Return(scheduledAttempt(), nil)
	ds.On("GetInvoiceByID", mock.Anything, "inv_local_1").Return(paid, nil)
	ds.On("UpdateDunningAttemptStatus", mock.Anything, "dun_1", model.DunningStatusAbandoned).Return(nil)

	err := r.ProcessDunningAttempt(context.Background(), dunningTask(t, "dun_1", "inv_local_1"))
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "GetCustomerByID", mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}

func TestProcessDunningAttempt_NonScheduledSkipped(t *testing.T) {
	r, ds := newTestRecurra(t)

	executed := scheduledAttempt()
	executed.Status = model.DunningStatusExecuted
	ds.On("GetDunningAttempt", mock.Anything, "dun_1").Return(executed, nil)

	err := r.ProcessDunningAttempt(context.Background(), dunningTask(t, "dun_1", "inv_local_1"))
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "GetInvoiceByID", mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "UpdateDunningAttemptStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessDunningAttempt_MalformedPayload(t *testing.T) {
	r, _ := newTestRecurra(t)

	err := r.ProcessDunningAttempt(context.Background(), asynq.NewTask("new:dunning", []byte("{not json")))
	assert.Error(t, err)
}
