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
	"encoding/json"
	"time"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

// The audit tables are append-only and write-only from the pipeline's point
// of view. Callers swallow errors from these methods; processing outcomes
// must never depend on them.

func (d Datasource) RecordBillingTransaction(ctx context.Context, txn *model.Transaction) error {
	metaDataJSON, err := json.Marshal(txn.MetaData)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	txn.TransactionID = model.GenerateUUIDWithSuffix("txn")
	txn.CreatedAt = time.Now()

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO recurra.transactions (transaction_id, customer_id, invoice_id, reference, amount, currency, description, created_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, txn.TransactionID, txn.CustomerID, txn.InvoiceID, txn.Reference, txn.Amount, txn.Currency, txn.Description, txn.CreatedAt, metaDataJSON)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record transaction", err)
	}

	return nil
}

func (d Datasource) RecordBillingHistory(ctx context.Context, entry *model.BillingHistoryEntry) error {
	entry.EntryID = model.GenerateUUIDWithSuffix("hist")
	entry.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recurra.billing_history (entry_id, customer_id, subscription_id, invoice_id, kind, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.EntryID, entry.CustomerID, entry.SubscriptionID, entry.InvoiceID, entry.Kind, entry.Description, entry.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record billing history", err)
	}

	return nil
}

func (d Datasource) RecordEventLog(ctx context.Context, entry *model.EventLog) error {
	entry.LogID = model.GenerateUUIDWithSuffix("log")
	entry.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recurra.event_logs (log_id, severity, message, event_external_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, entry.LogID, entry.Severity, entry.Message, entry.EventExternalID, entry.CreatedAt)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record event log", err)
	}

	return nil
}
