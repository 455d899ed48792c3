package database

import (
	"context"
	"database/sql"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

func (d Datasource) GetDunningAttempt(ctx context.Context, attemptID string) (*model.DunningAttempt, error) {
	attempt := model.DunningAttempt{}
	var subscriptionID sql.NullString

	row := d.Conn.QueryRowContext(ctx, `
		SELECT attempt_id, invoice_id, subscription_id, customer_id, attempt_number, retry_at, status, created_at
		FROM recurra.dunning_attempts
		WHERE attempt_id = $1
	`, attemptID)

	err := row.Scan(&attempt.AttemptID, &attempt.InvoiceID, &subscriptionID, &attempt.CustomerID,
		&attempt.AttemptNumber, &attempt.RetryAt, &attempt.Status, &attempt.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Dunning attempt not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dunning attempt", err)
	}

	attempt.SubscriptionID = subscriptionID.String

	return &attempt, nil
}

func (d Datasource) UpdateDunningAttemptStatus(ctx context.Context, attemptID, status string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recurra.dunning_attempts
		SET status = $2
		WHERE attempt_id = $1
	`, attemptID, status)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update dunning attempt", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Dunning attempt not found", sql.ErrNoRows)
	}

	return nil
}

// AbandonScheduledAttempts flips every still-scheduled attempt for the
// invoice to abandoned. Runs when a payment succeeds; returns how many rows
// were flipped.
func (d Datasource) AbandonScheduledAttempts(ctx context.Context, invoiceID string) (int64, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recurra.dunning_attempts
		SET status = $2
		WHERE invoice_id = $1 AND status = $3
	`, invoiceID, model.DunningStatusAbandoned, model.DunningStatusScheduled)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to abandon dunning attempts", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}

	return rows, nil
}

func (d Datasource) GetScheduledAttempts(ctx context.Context, limit, offset int) ([]*model.DunningAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, invoice_id, subscription_id, customer_id, attempt_number, retry_at, status, created_at
		FROM recurra.dunning_attempts
		WHERE status = $1
		ORDER BY retry_at ASC
		LIMIT $2 OFFSET $3
	`, model.DunningStatusScheduled, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dunning attempts", err)
	}

	return scanAttempts(rows)
}

// GetScheduledAttemptsByInvoice returns every still-scheduled attempt for one
// invoice, unpaginated. The settlement path uses it to cancel queued
// reminders without scanning the global schedule.
func (d Datasource) GetScheduledAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*model.DunningAttempt, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT attempt_id, invoice_id, subscription_id, customer_id, attempt_number, retry_at, status, created_at
		FROM recurra.dunning_attempts
		WHERE invoice_id = $1 AND status = $2
		ORDER BY retry_at ASC
	`, invoiceID, model.DunningStatusScheduled)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve dunning attempts", err)
	}

	return scanAttempts(rows)
}

func scanAttempts(rows *sql.Rows) ([]*model.DunningAttempt, error) {
	defer rows.Close()

	attempts := []*model.DunningAttempt{}
	for rows.Next() {
		attempt := model.DunningAttempt{}
		var subscriptionID sql.NullString
		err := rows.Scan(&attempt.AttemptID, &attempt.InvoiceID, &subscriptionID, &attempt.CustomerID,
			&attempt.AttemptNumber, &attempt.RetryAt, &attempt.Status, &attempt.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan dunning attempt", err)
		}
		attempt.SubscriptionID = subscriptionID.String
		attempts = append(attempts, &attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over dunning attempts", err)
	}

	return attempts, nil
}
