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

	"github.com/sirupsen/logrus"

	"github.com/recurrahq/recurra/internal/apierror"
	redlock "github.com/recurrahq/recurra/internal/lock"
	"github.com/recurrahq/recurra/model"
)

// handleInvoiceCreated materializes the invoice row. Creation is keyed on
// the processor external id, so redelivery returns the stored row untouched.
func (r *Recurra) handleInvoiceCreated(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	create, err := invoiceCreateFromEnvelope(envelope)
	if err != nil {
		return err
	}

	customer, err := r.datasource.GetCustomerByExternalID(ctx, create.CustomerExternalID)
	if err != nil {
		if apierror.IsNotFound(err) {
			// Invoices never create customers implicitly.
			return fmt.Errorf("invoice %s references unknown customer %s", create.ExternalID, create.CustomerExternalID)
		}
		return err
	}

	inv := &model.Invoice{
		ExternalID: create.ExternalID,
		CustomerID: customer.CustomerID,
		Status:     model.InvoiceStatusOpen,
		AmountDue:  create.AmountDue,
		Currency:   create.Currency,
	}

	if create.SubscriptionExternalID != "" {
		sub, err := r.datasource.GetSubscriptionByExternalID(ctx, create.SubscriptionExternalID)
		if err == nil {
			inv.SubscriptionID = sub.SubscriptionID
		} else if !apierror.IsNotFound(err) {
			return err
		}
	}

	created, err := r.datasource.CreateInvoiceIfAbsent(ctx, inv, create.Lines)
	if err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:  created.CustomerID,
		InvoiceID:   created.InvoiceID,
		Kind:        "invoice_created",
		Description: fmt.Sprintf("invoice %s created for %s %s", created.ExternalID, created.AmountDue, created.Currency),
	})
	return nil
}

// handlePaymentSucceeded settles the invoice and tears down all dunning
// state: retry counters reset, scheduled reminders abandoned, pending queue
// tasks dropped. Subscription recovery out of past_due arrives as its own
// subscription.updated event from the processor.
func (r *Recurra) handlePaymentSucceeded(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	result, err := paymentResultFromEnvelope(envelope)
	if err != nil {
		return err
	}

	locker := redlock.NewEntityLocker(r.redis, "invoice", result.InvoiceExternalID)
	if err := locker.WaitLock(ctx, lockTimeout, lockWaitTimeout); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	inv, err := r.datasource.GetInvoiceByExternalID(ctx, result.InvoiceExternalID)
	if err != nil {
		if apierror.IsNotFound(err) {
			logrus.WithField("invoice", result.InvoiceExternalID).Warn("payment success for unknown invoice")
			return nil
		}
		return err
	}

	if err := r.datasource.MarkInvoicePaid(ctx, inv.InvoiceID, result.AmountPaid); err != nil {
		return err
	}

	// Cancel queued reminder tasks while the attempt rows still read as
	// scheduled, then flip the rows.
	r.cancelPendingReminders(ctx, inv.InvoiceID)
	if _, err := r.datasource.AbandonScheduledAttempts(ctx, inv.InvoiceID); err != nil {
		return err
	}

	r.auditTransaction(ctx, &model.Transaction{
		CustomerID:  inv.CustomerID,
		InvoiceID:   inv.InvoiceID,
		Reference:   evt.ExternalID,
		Amount:      result.AmountPaid,
		Currency:    inv.Currency,
		Description: "payment received",
	})
	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:  inv.CustomerID,
		InvoiceID:   inv.InvoiceID,
		Kind:        "payment_succeeded",
		Description: fmt.Sprintf("invoice %s paid", inv.ExternalID),
	})

	r.sendReceiptEmail(inv, result)
	return nil
}

// handlePaymentFailed advances the dunning ladder: bump retry_count, stamp
// the failure, record the processor-facing next retry, schedule the local
// reminder, and force the subscription past_due.
func (r *Recurra) handlePaymentFailed(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	result, err := paymentResultFromEnvelope(envelope)
	if err != nil {
		return err
	}

	locker := redlock.NewEntityLocker(r.redis, "invoice", result.InvoiceExternalID)
	if err := locker.WaitLock(ctx, lockTimeout, lockWaitTimeout); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	inv, err := r.datasource.GetInvoiceByExternalID(ctx, result.InvoiceExternalID)
	if err != nil {
		if apierror.IsNotFound(err) {
			logrus.WithField("invoice", result.InvoiceExternalID).Warn("payment failure for unknown invoice")
			return nil
		}
		return err
	}

	if inv.Status == model.InvoiceStatusPaid {
		// A failure arriving after settlement is stale; the success path
		// already cleared all dunning state.
		logrus.WithField("invoice", inv.ExternalID).Info("payment failure for settled invoice ignored")
		return nil
	}

	prevRetryCount := inv.RetryCount
	failedAt := result.OccurredAt

	inv.RetryCount = prevRetryCount + 1
	inv.PaymentFailedAt = &failedAt
	inv.NextRetryAt = nextRetryAt(failedAt, prevRetryCount)
	inv.LastFinalizationError = result.FailureReason

	attempt := &model.DunningAttempt{
		InvoiceID:      inv.InvoiceID,
		SubscriptionID: inv.SubscriptionID,
		CustomerID:     inv.CustomerID,
		AttemptNumber:  inv.RetryCount,
		RetryAt:        reminderAt(failedAt),
		Status:         model.DunningStatusScheduled,
	}

	if err := r.datasource.RecordPaymentFailure(ctx, inv, attempt); err != nil {
		return err
	}

	if err := r.queue.EnqueueDunningAttempt(attempt); err != nil {
		// The attempt row survives; the scheduled-attempts sweep can pick it
		// up even without the queue task.
		logrus.Error(err)
	}

	if err := r.forcePastDue(ctx, result.SubscriptionExternalID, EventPaymentFailed); err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:     inv.CustomerID,
		SubscriptionID: inv.SubscriptionID,
		InvoiceID:      inv.InvoiceID,
		Kind:           "payment_failed",
		Description:    fmt.Sprintf("payment failed (attempt %d): %s", inv.RetryCount, result.FailureReason),
	})
	return nil
}

// cancelPendingReminders drops queued reminder tasks for all scheduled
// attempts of an invoice. Best-effort: the worker also rechecks invoice
// state before sending anything.
func (r *Recurra) cancelPendingReminders(ctx context.Context, invoiceID string) {
	attempts, err := r.datasource.GetScheduledAttemptsByInvoice(ctx, invoiceID)
	if err != nil {
		logrus.Error(err)
		return
	}
	for _, attempt := range attempts {
		if err := r.queue.CancelScheduledAttempt(attempt.AttemptID); err != nil {
			logrus.Error(err)
		}
	}
}

// GetInvoice returns an invoice by its processor external id.
func (r *Recurra) GetInvoice(ctx context.Context, externalID string) (*model.Invoice, error) {
	return r.datasource.GetInvoiceByExternalID(ctx, externalID)
}
