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
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

func invoiceCreatedPayload(eventID, invoiceID, customerID, subscriptionID string) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": "invoice.created",
		"created": %d,
		"data": {"object": {
			"id": %q,
			"customer": %q,
			"subscription": %q,
			"amount_due": 2900,
			"currency": "usd",
			"lines": {"data": [{"description": "Pro plan", "amount": 2900, "quantity": 1}]}
		}}
	}`, eventID, time.Now().Unix(), invoiceID, customerID, subscriptionID))
}

func paymentEventPayload(eventID, eventType, invoiceID, customerID, subscriptionID string, amountPaid int64, failureMessage string, occurredAt time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"created": %d,
		"data": {"object": {
			"id": %q,
			"customer": %q,
			"subscription": %q,
			"amount_paid": %d,
			"currency": "usd",
			"last_finalization_error": {"message": %q}
		}}
	}`, eventID, eventType, occurredAt.Unix(), invoiceID, customerID, subscriptionID, amountPaid, failureMessage))
}

func within(t time.Time, want time.Time) bool {
	d := t.Sub(want)
	return d > -time.Second && d < time.Second
}

func openInvoice(retryCount int) *model.Invoice {
	return &model.Invoice{
		InvoiceID:      "inv_local_1",
		ExternalID:     "in_ext_1",
		SubscriptionID: "sub_local_1",
		CustomerID:     "cust_1",
		Status:         model.InvoiceStatusOpen,
		AmountDue:      decimal.NewFromInt(29),
		Currency:       "usd",
		RetryCount:     retryCount,
	}
}

func TestInvoiceCreated_MaterializesInvoiceWithLines(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := invoiceCreatedPayload("evt_i1", "in_ext_1", "cus_1", "sub_ext_1")

	ds.On("GetCustomerByExternalID", mock.Anything, "cus_1").
		Return(&model.Customer{CustomerID: "cust_1", ExternalID: "cus_1"}, nil)
	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusActive, time.Now()), nil)
	ds.On("CreateInvoiceIfAbsent", mock.Anything, mock.MatchedBy(func(inv *model.Invoice) bool {
		return inv.ExternalID == "in_ext_1" && inv.AmountDue.Equal(decimal.NewFromInt(29))
	}), mock.MatchedBy(func(lines []model.InvoiceLineItem) bool {
		return len(lines) == 1 && lines[0].Description == "Pro plan"
	})).Return(openInvoice(0), nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_i1", Type: EventInvoiceCreated, RawPayload: payload}
	err := r.handleInvoiceCreated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestInvoiceCreated_UnknownCustomerFails(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := invoiceCreatedPayload("evt_i2", "in_ext_1", "cus_ghost", "")

	ds.On("GetCustomerByExternalID", mock.Anything, "cus_ghost").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Customer not found", nil))

	evt := &model.InboundEvent{ExternalID: "evt_i2", Type: EventInvoiceCreated, RawPayload: payload}
	err := r.handleInvoiceCreated(context.Background(), evt)
	assert.Error(t, err)
	ds.AssertNotCalled(t, "CreateInvoiceIfAbsent", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentFailed_FirstFailureStartsDunningLadder(t *testing.T) {
	r, ds := newTestRecurra(t)
	occurredAt := time.Now()
	payload := paymentEventPayload("evt_f1", EventPaymentFailed, "in_ext_1", "cus_1", "sub_ext_1", 0, "card_declined", occurredAt)

	ds.On("GetInvoiceByExternalID", mock.Anything, "in_ext_1").Return(openInvoice(0), nil)
	ds.On("RecordPaymentFailure", mock.Anything, mock.MatchedBy(func(inv *model.Invoice) bool {
		wantRetry := occurredAt.AddDate(0, 0, 3)
		return inv.RetryCount == 1 &&
			inv.LastFinalizationError == "card_declined" &&
			inv.PaymentFailedAt != nil &&
			inv.NextRetryAt != nil && within(*inv.NextRetryAt, wantRetry)
	}), mock.MatchedBy(func(attempt *model.DunningAttempt) bool {
		wantReminder := occurredAt.AddDate(0, 0, 3)
		return attempt.AttemptNumber == 1 &&
			attempt.Status == model.DunningStatusScheduled &&
			within(attempt.RetryAt, wantReminder)
	})).Run(func(args mock.Arguments) {
		args.Get(2).(*model.DunningAttempt).AttemptID = "dun_test_1"
	}).Return(nil)
	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusActive, time.Now().Add(-time.Hour)), nil)
	ds.On("UpdateSubscriptionStatus", mock.Anything, mock.AnythingOfType("*model.Subscription"),
		model.SubscriptionStatusPastDue, EventPaymentFailed, (*time.Time)(nil)).Return(nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_f1", Type: EventPaymentFailed, RawPayload: payload}
	err := r.handlePaymentFailed(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestPaymentFailed_BackoffLadder(t *testing.T) {
	cases := []struct {
		name           string
		prevRetryCount int
		wantOffsetDays int
		wantNil        bool
	}{
		{"second failure", 1, 5, false},
		{"third failure", 2, 7, false},
		{"beyond the cap", 3, 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r, ds := newTestRecurra(t)
			occurredAt := time.Now()
			payload := paymentEventPayload("evt_fb", EventPaymentFailed, "in_ext_1", "cus_1", "", 0, "card_declined", occurredAt)

			ds.On("GetInvoiceByExternalID", mock.Anything, "in_ext_1").Return(openInvoice(tc.prevRetryCount), nil)
			ds.On("RecordPaymentFailure", mock.Anything, mock.MatchedBy(func(inv *model.Invoice) bool {
				if inv.RetryCount != tc.prevRetryCount+1 {
					return false
				}
				if tc.wantNil {
					return inv.NextRetryAt == nil
				}
				want := occurredAt.AddDate(0, 0, tc.wantOffsetDays)
				return inv.NextRetryAt != nil && within(*inv.NextRetryAt, want)
			}), mock.AnythingOfType("*model.DunningAttempt")).Run(func(args mock.Arguments) {
				args.Get(2).(*model.DunningAttempt).AttemptID = "dun_test_b"
			}).Return(nil)
			ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)

			evt := &model.InboundEvent{ExternalID: "evt_fb", Type: EventPaymentFailed, RawPayload: payload}
			err := r.handlePaymentFailed(context.Background(), evt)
			assert.NoError(t, err)
			ds.AssertExpectations(t)
		})
	}
}

func TestPaymentFailed_UnknownInvoiceIsNoOp(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := paymentEventPayload("evt_f2", EventPaymentFailed, "in_ghost", "cus_1", "", 0, "card_declined", time.Now())

	ds.On("GetInvoiceByExternalID", mock.Anything, "in_ghost").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Invoice not found", nil))

	evt := &model.InboundEvent{ExternalID: "evt_f2", Type: EventPaymentFailed, RawPayload: payload}
	err := r.handlePaymentFailed(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "RecordPaymentFailure", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentFailed_AfterSettlementIgnored(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := paymentEventPayload("evt_f3", EventPaymentFailed, "in_ext_1", "cus_1", "", 0, "card_declined", time.Now())

	paid := openInvoice(0)
	paid.Status = model.InvoiceStatusPaid
	ds.On("GetInvoiceByExternalID", mock.Anything, "in_ext_1").Return(paid, nil)

	evt := &model.InboundEvent{ExternalID: "evt_f3", Type: EventPaymentFailed, RawPayload: payload}
	err := r.handlePaymentFailed(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "RecordPaymentFailure", mock.Anything, mock.Anything, mock.Anything)
}

func TestPaymentSucceeded_ClearsDunningState(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := paymentEventPayload("evt_p1", EventPaymentSucceeded, "in_ext_1", "cus_1", "sub_ext_1", 2900, "", time.Now())

	inv := openInvoice(2)
	ds.On("GetInvoiceByExternalID", mock.Anything, "in_ext_1").Return(inv, nil)
	ds.On("MarkInvoicePaid", mock.Anything, "inv_local_1", mock.MatchedBy(func(amount decimal.Decimal) bool {
		return amount.Equal(decimal.NewFromInt(29))
	})).Return(nil)
	ds.On("GetScheduledAttemptsByInvoice", mock.Anything, "inv_local_1").Return([]*model.DunningAttempt{
		{AttemptID: "dun_1", InvoiceID: "inv_local_1", Status: model.DunningStatusScheduled},
	}, nil)
	ds.On("AbandonScheduledAttempts", mock.Anything, "inv_local_1").Return(int64(1), nil)
	ds.On("RecordBillingTransaction", mock.Anything, mock.AnythingOfType("*model.Transaction")).Return(nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)
	ds.On("GetCustomerByID", mock.Anything, "cust_1").
		Return(&model.Customer{CustomerID: "cust_1", Email: "ada@example.com"}, nil)

	evt := &model.InboundEvent{ExternalID: "evt_p1", Type: EventPaymentSucceeded, RawPayload: payload}
	err := r.handlePaymentSucceeded(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestPaymentSucceeded_AuditFailureDoesNotPropagate(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := paymentEventPayload("evt_p2", EventPaymentSucceeded, "in_ext_1", "cus_1", "", 2900, "", time.Now())

	inv := openInvoice(0)
	ds.On("GetInvoiceByExternalID", mock.Anything, "in_ext_1").Return(inv, nil)
	ds.On("MarkInvoicePaid", mock.Anything, "inv_local_1", mock.Anything).Return(nil)
	ds.On("GetScheduledAttemptsByInvoice", mock.Anything, "inv_local_1").Return([]*model.DunningAttempt{}, nil)
	ds.On("AbandonScheduledAttempts", mock.Anything, "inv_local_1").Return(int64(0), nil)
	ds.On("RecordBillingTransaction", mock.Anything, mock.Anything).
		Return(apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", nil))
	ds.On("RecordBillingHistory", mock.Anything, mock.Anything).
		Return(apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record billing history", nil))
	ds.On("GetCustomerByID", mock.Anything, "cust_1").
		Return(&model.Customer{CustomerID: "cust_1", Email: "ada@example.com"}, nil)

	evt := &model.InboundEvent{ExternalID: "evt_p2", Type: EventPaymentSucceeded, RawPayload: payload}
	err := r.handlePaymentSucceeded(context.Background(), evt)
	assert.NoError(t, err)
}
