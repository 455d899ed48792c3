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
	"github.com/shopspring/decimal"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

// CreateInvoiceIfAbsent inserts the invoice and its line items keyed on the
// processor's external id. A redelivered invoice.created leaves the stored
// row untouched and returns it.
func (d Datasource) CreateInvoiceIfAbsent(ctx context.Context, inv *model.Invoice, lines []model.InvoiceLineItem) (*model.Invoice, error) {
	inv.InvoiceID = model.GenerateUUIDWithSuffix("inv")
	inv.CreatedAt = time.Now()
	if inv.Status == "" {
		inv.Status = model.InvoiceStatusOpen
	}

	// subscription_id is a nullable FK; a standalone invoice carries no
	// subscription and must insert NULL, never ''.
	var subscriptionID sql.NullString
	if inv.SubscriptionID != "" {
		subscriptionID = sql.NullString{String: inv.SubscriptionID, Valid: true}
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO recurra.invoices
			(invoice_id, external_id, subscription_id, customer_id, status, amount_due, amount_paid,
			 currency, retry_count, payment_failed_at, next_retry_at, last_finalization_error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, NULL, NULL, '', $9)
		ON CONFLICT (external_id) DO NOTHING
	`, inv.InvoiceID, inv.ExternalID, subscriptionID, inv.CustomerID, inv.Status,
		inv.AmountDue, inv.AmountPaid, inv.Currency, inv.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() != "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
		}
		if !ok {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create invoice", err)
		}
	}

	var inserted int64
	if err == nil {
		inserted, err = result.RowsAffected()
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read insert result", err)
		}
	}

	if inserted == 0 {
		// Redelivery. Abandon the tx and return the stored row.
		_ = tx.Rollback()
		return d.GetInvoiceByExternalID(ctx, inv.ExternalID)
	}

	for i := range lines {
		lines[i].LineID = model.GenerateUUIDWithSuffix("line")
		lines[i].InvoiceID = inv.InvoiceID
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recurra.invoice_line_items (line_id, invoice_id, description, amount, quantity)
			VALUES ($1, $2, $3, $4, $5)
		`, lines[i].LineID, lines[i].InvoiceID, lines[i].Description, lines[i].Amount, lines[i].Quantity)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create invoice line item", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return inv, nil
}

func (d Datasource) GetInvoiceByExternalID(ctx context.Context, externalID string) (*model.Invoice, error) {
	return d.getInvoice(ctx, "external_id", externalID)
}

func (d Datasource) GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error) {
	return d.getInvoice(ctx, "invoice_id", id)
}

func (d Datasource) getInvoice(ctx context.Context, column, value string) (*model.Invoice, error) {
	inv := model.Invoice{}
	var subscriptionID, lastFinalizationError sql.NullString

	row := d.Conn.QueryRowContext(ctx, `
		SELECT invoice_id, external_id, subscription_id, customer_id, status, amount_due, amount_paid,
		       currency, retry_count, payment_failed_at, next_retry_at, last_finalization_error, created_at
		FROM recurra.invoices
		WHERE `+column+` = $1
	`, value)

	err := row.Scan(&inv.InvoiceID, &inv.ExternalID, &subscriptionID, &inv.CustomerID, &inv.Status,
		&inv.AmountDue, &inv.AmountPaid, &inv.Currency, &inv.RetryCount, &inv.PaymentFailedAt,
		&inv.NextRetryAt, &lastFinalizationError, &inv.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Invoice not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve invoice", err)
	}

	inv.SubscriptionID = subscriptionID.String
	inv.LastFinalizationError = lastFinalizationError.String

	return &inv, nil
}

// MarkInvoicePaid flips the invoice to paid and clears every piece of
// failure state in one statement: retry_count back to zero, the failure and
// retry timestamps dropped, the stored error erased.
func (d Datasource) MarkInvoicePaid(ctx context.Context, invoiceID string, amountPaid decimal.Decimal) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recurra.invoices
		SET status = $2, amount_paid = $3, retry_count = 0,
		    payment_failed_at = NULL, next_retry_at = NULL, last_finalization_error = ''
		WHERE invoice_id = $1
	`, invoiceID, model.InvoiceStatusPaid, amountPaid)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark invoice paid", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Invoice not found", sql.ErrNoRows)
	}

	return nil
}

// RecordPaymentFailure applies the failure state already computed on inv
// (retry_count, payment_failed_at, next_retry_at, last_finalization_error)
// and inserts the dunning attempt row in the same transaction, so the
// schedule can never disagree with the invoice.
func (d Datasource) RecordPaymentFailure(ctx context.Context, inv *model.Invoice, attempt *model.DunningAttempt) error {
	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
		UPDATE recurra.invoices
		SET retry_count = $2, payment_failed_at = $3, next_retry_at = $4, last_finalization_error = $5
		WHERE invoice_id = $1
	`, inv.InvoiceID, inv.RetryCount, inv.PaymentFailedAt, inv.NextRetryAt, inv.LastFinalizationError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record payment failure", err)
	}

	if attempt != nil {
		attempt.AttemptID = model.GenerateUUIDWithSuffix("dun")
		attempt.CreatedAt = time.Now()
		if attempt.Status == "" {
			attempt.Status = model.DunningStatusScheduled
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO recurra.dunning_attempts
				(attempt_id, invoice_id, subscription_id, customer_id, attempt_number, retry_at, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, attempt.AttemptID, attempt.InvoiceID, attempt.SubscriptionID, attempt.CustomerID,
			attempt.AttemptNumber, attempt.RetryAt, attempt.Status, attempt.CreatedAt)
		if err != nil {
			return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to schedule dunning attempt", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return nil
}
