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
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recurrahq/recurra/internal/apierror"
	redlock "github.com/recurrahq/recurra/internal/lock"
	"github.com/recurrahq/recurra/model"
)

const (
	lockTimeout     = 30 * time.Second
	lockWaitTimeout = 5 * time.Second
)

func (r *Recurra) handleSubscriptionCreated(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	change, err := subscriptionChangeFromEnvelope(envelope)
	if err != nil {
		return err
	}
	return r.applySubscriptionChange(ctx, change, subscriptionChangeOpts{createIfMissing: true})
}

func (r *Recurra) handleSubscriptionUpdated(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	change, err := subscriptionChangeFromEnvelope(envelope)
	if err != nil {
		return err
	}
	return r.applySubscriptionChange(ctx, change, subscriptionChangeOpts{})
}

// handleSubscriptionDeleted forces the canceled status regardless of what
// the payload claims, and stamps ended_at from the event time.
func (r *Recurra) handleSubscriptionDeleted(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	change, err := subscriptionChangeFromEnvelope(envelope)
	if err != nil {
		return err
	}
	change.Status = model.SubscriptionStatusCanceled
	return r.applySubscriptionChange(ctx, change, subscriptionChangeOpts{deleted: true})
}

// subscriptionChangeOpts carries the event-kind semantics into the state
// machine: only a created event may materialize rows, only a deleted event
// stamps ended_at.
type subscriptionChangeOpts struct {
	createIfMissing bool
	deleted         bool
}

// applySubscriptionChange runs one reported state through the subscription
// state machine under a per-subscription lock, so concurrent deliveries for
// the same subscription serialize.
//
// A transition row is appended only when the status actually changes;
// same-status reports refresh the mutable fields silently. An update or
// delete for an unknown external id is a logged no-op; customers are only
// ever created implicitly on the created pathway.
func (r *Recurra) applySubscriptionChange(ctx context.Context, change *model.SubscriptionChange, opts subscriptionChangeOpts) error {
	locker := redlock.NewEntityLocker(r.redis, "subscription", change.ExternalID)
	if err := locker.WaitLock(ctx, lockTimeout, lockWaitTimeout); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	sub, err := r.datasource.GetSubscriptionByExternalID(ctx, change.ExternalID)
	if err != nil {
		if !apierror.IsNotFound(err) {
			return err
		}
		if !opts.createIfMissing {
			logrus.WithField("subscription", change.ExternalID).Warn("change for unknown subscription ignored")
			return nil
		}
		return r.createSubscriptionFromChange(ctx, change)
	}

	// Out-of-order deliveries must not rewind the state machine.
	if change.EventTimestamp.Before(sub.LastEventTimestamp) {
		logrus.WithFields(logrus.Fields{
			"subscription": change.ExternalID,
			"event_time":   change.EventTimestamp,
			"applied_time": sub.LastEventTimestamp,
		}).Info("stale subscription event ignored")
		return nil
	}

	if model.TerminalSubscriptionStatus(sub.Status) {
		logrus.WithField("subscription", change.ExternalID).Info("subscription already canceled, change ignored")
		return nil
	}

	sub.Amount = change.Amount
	sub.Currency = change.Currency
	sub.BillingInterval = change.BillingInterval
	sub.CurrentPeriodStart = change.CurrentPeriodStart
	sub.CurrentPeriodEnd = change.CurrentPeriodEnd
	sub.TrialEnd = change.TrialEnd
	sub.CanceledAt = change.CanceledAt
	sub.LastEventTimestamp = change.EventTimestamp

	if sub.Status == change.Status {
		return r.datasource.RefreshSubscription(ctx, sub)
	}

	var endedAt *time.Time
	if opts.deleted {
		t := change.EventTimestamp
		endedAt = &t
	}

	fromStatus := sub.Status
	if err := r.datasource.UpdateSubscriptionStatus(ctx, sub, change.Status, change.Reason, endedAt); err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           "subscription_status_changed",
		Description:    fromStatus + " -> " + change.Status,
	})
	return nil
}

func (r *Recurra) createSubscriptionFromChange(ctx context.Context, change *model.SubscriptionChange) error {
	// Customers are create-on-first-sight; a subscription event may be the
	// first time we hear about its customer.
	upsert := change.Customer
	if upsert == nil {
		upsert = &model.CustomerUpsert{ExternalID: change.CustomerExternalID}
	}
	customer, err := r.resolveOrCreateCustomer(ctx, upsert)
	if err != nil {
		return err
	}

	sub := &model.Subscription{
		ExternalID:         change.ExternalID,
		CustomerID:         customer.CustomerID,
		Status:             change.Status,
		Amount:             change.Amount,
		Currency:           change.Currency,
		BillingInterval:    change.BillingInterval,
		CurrentPeriodStart: change.CurrentPeriodStart,
		CurrentPeriodEnd:   change.CurrentPeriodEnd,
		TrialEnd:           change.TrialEnd,
		CanceledAt:         change.CanceledAt,
		LastEventTimestamp: change.EventTimestamp,
	}

	created, err := r.datasource.CreateSubscription(ctx, sub, change.Reason)
	if err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:     created.CustomerID,
		SubscriptionID: created.SubscriptionID,
		Kind:           "subscription_created",
		Description:    "subscription created in status " + created.Status,
	})
	return nil
}

// forcePastDue moves a subscription to past_due in reaction to a payment
// failure on one of its invoices. Canceled subscriptions are left alone.
func (r *Recurra) forcePastDue(ctx context.Context, subscriptionExternalID, reason string) error {
	if subscriptionExternalID == "" {
		return nil
	}

	locker := redlock.NewEntityLocker(r.redis, "subscription", subscriptionExternalID)
	if err := locker.WaitLock(ctx, lockTimeout, lockWaitTimeout); err != nil {
		return err
	}
	defer func() {
		if err := locker.Unlock(ctx); err != nil {
			logrus.Error(err)
		}
	}()

	sub, err := r.datasource.GetSubscriptionByExternalID(ctx, subscriptionExternalID)
	if err != nil {
		if apierror.IsNotFound(err) {
			logrus.WithField("subscription", subscriptionExternalID).Warn("payment failure for unknown subscription")
			return nil
		}
		return err
	}

	if sub.Status == model.SubscriptionStatusPastDue || model.TerminalSubscriptionStatus(sub.Status) {
		return nil
	}

	fromStatus := sub.Status
	if err := r.datasource.UpdateSubscriptionStatus(ctx, sub, model.SubscriptionStatusPastDue, reason, nil); err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:     sub.CustomerID,
		SubscriptionID: sub.SubscriptionID,
		Kind:           "subscription_status_changed",
		Description:    fromStatus + " -> " + model.SubscriptionStatusPastDue,
	})
	return nil
}

// GetSubscription returns a subscription by its processor external id.
func (r *Recurra) GetSubscription(ctx context.Context, externalID string) (*model.Subscription, error) {
	return r.datasource.GetSubscriptionByExternalID(ctx, externalID)
}

// GetSubscriptionTransitions returns the append-only status history.
func (r *Recurra) GetSubscriptionTransitions(ctx context.Context, subscriptionID string) ([]model.SubscriptionStateTransition, error) {
	return r.datasource.GetStateTransitions(ctx, subscriptionID)
}
