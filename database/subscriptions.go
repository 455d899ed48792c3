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

package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

// CreateSubscription inserts the subscription row and its creation
// transition in one transaction. FromStatus on the creation transition is
// NULL.
func (d Datasource) CreateSubscription(ctx context.Context, sub *model.Subscription, reason string) (*model.Subscription, error) {
	sub.SubscriptionID = model.GenerateUUIDWithSuffix("sub")
	sub.CreatedAt = time.Now()

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO recurra.subscriptions
			(subscription_id, external_id, customer_id, status, amount, currency, billing_interval,
			 current_period_start, current_period_end, trial_end, canceled_at, ended_at, last_event_timestamp, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, sub.SubscriptionID, sub.ExternalID, sub.CustomerID, sub.Status, sub.Amount, sub.Currency, sub.BillingInterval,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd, sub.CanceledAt, sub.EndedAt, sub.LastEventTimestamp, sub.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, "Subscription with this external ID already exists", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create subscription", err)
	}

	transitionID := model.GenerateUUIDWithSuffix("trs")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recurra.subscription_state_transitions (transition_id, subscription_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, NULL, $3, $4, NOW())
	`, transitionID, sub.SubscriptionID, sub.Status, reason)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record state transition", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return sub, nil
}

func (d Datasource) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	sub := model.Subscription{}
	row := d.Conn.QueryRowContext(ctx, `
		SELECT subscription_id, external_id, customer_id, status, amount, currency, billing_interval,
		       current_period_start, current_period_end, trial_end, canceled_at, ended_at, last_event_timestamp, created_at
		FROM recurra.subscriptions
		WHERE external_id = $1
	`, externalID)

	err := row.Scan(&sub.SubscriptionID, &sub.ExternalID, &sub.CustomerID, &sub.Status, &sub.Amount, &sub.Currency,
		&sub.BillingInterval, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.TrialEnd, &sub.CanceledAt,
		&sub.EndedAt, &sub.LastEventTimestamp, &sub.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve subscription", err)
	}

	return &sub, nil
}

// UpdateSubscriptionStatus moves the subscription to toStatus and appends
// the transition row in the same transaction. Callers only invoke this when
// the status actually changes; same-status refreshes go through
// RefreshSubscription and never produce a transition.
func (d Datasource) UpdateSubscriptionStatus(ctx context.Context, sub *model.Subscription, toStatus, reason string, endedAt *time.Time) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	fromStatus := sub.Status

	_, err = tx.ExecContext(ctx, `
		UPDATE recurra.subscriptions
		SET status = $2, amount = $3, currency = $4, billing_interval = $5,
		    current_period_start = $6, current_period_end = $7, trial_end = $8,
		    canceled_at = $9, ended_at = $10, last_event_timestamp = $11
		WHERE subscription_id = $1
	`, sub.SubscriptionID, toStatus, sub.Amount, sub.Currency, sub.BillingInterval,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd, sub.CanceledAt, endedAt, sub.LastEventTimestamp)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update subscription", err)
	}

	transitionID := model.GenerateUUIDWithSuffix("trs")
	_, err = tx.ExecContext(ctx, `
		INSERT INTO recurra.subscription_state_transitions (transition_id, subscription_id, from_status, to_status, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
	`, transitionID, sub.SubscriptionID, fromStatus, toStatus, reason)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record state transition", err)
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	sub.Status = toStatus
	sub.EndedAt = endedAt
	return nil
}

// RefreshSubscription rewrites the mutable non-status fields. No transition
// row is produced.
func (d Datasource) RefreshSubscription(ctx context.Context, sub *model.Subscription) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recurra.subscriptions
		SET amount = $2, currency = $3, billing_interval = $4,
		    current_period_start = $5, current_period_end = $6, trial_end = $7,
		    canceled_at = $8, last_event_timestamp = $9
		WHERE subscription_id = $1
	`, sub.SubscriptionID, sub.Amount, sub.Currency, sub.BillingInterval,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEnd, sub.CanceledAt, sub.LastEventTimestamp)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to refresh subscription", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", sql.ErrNoRows)
	}

	return nil
}

func (d Datasource) GetStateTransitions(ctx context.Context, subscriptionID string) ([]model.SubscriptionStateTransition, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transition_id, subscription_id, from_status, to_status, reason, created_at
		FROM recurra.subscription_state_transitions
		WHERE subscription_id = $1
		ORDER BY created_at ASC
	`, subscriptionID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve state transitions", err)
	}
	defer rows.Close()

	transitions := []model.SubscriptionStateTransition{}
	for rows.Next() {
		t := model.SubscriptionStateTransition{}
		var reason sql.NullString
		err = rows.Scan(&t.TransitionID, &t.SubscriptionID, &t.FromStatus, &t.ToStatus, &reason, &t.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan state transition", err)
		}
		t.Reason = reason.String
		transitions = append(transitions, t)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over transitions", err)
	}

	return transitions, nil
}
