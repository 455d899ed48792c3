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

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LogSeverityInfo    = "info"
	LogSeverityWarning = "warning"
	LogSeverityError   = "error"
)

// Transaction is an append-only ledger row describing a financial state
// change. The core never reads these back; they exist for reporting.
type Transaction struct {
	TransactionID string                 `json:"transaction_id"`
	CustomerID    string                 `json:"customer_id"`
	InvoiceID     string                 `json:"invoice_id,omitempty"`
	Reference     string                 `json:"reference"`
	Amount        decimal.Decimal        `json:"amount"`
	Currency      string                 `json:"currency"`
	Description   string                 `json:"description"`
	CreatedAt     time.Time              `json:"created_at"`
	MetaData      map[string]interface{} `json:"meta_data,omitempty"`
}

// BillingHistoryEntry is a human-readable back-office timeline row.
type BillingHistoryEntry struct {
	EntryID        string    `json:"entry_id"`
	CustomerID     string    `json:"customer_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	InvoiceID      string    `json:"invoice_id,omitempty"`
	Kind           string    `json:"kind"`
	Description    string    `json:"description"`
	CreatedAt      time.Time `json:"created_at"`
}

// EventLog is a severity-tagged structured log row written alongside every
// pipeline outcome. Best-effort, write-only.
type EventLog struct {
	LogID           string    `json:"log_id"`
	Severity        string    `json:"severity"`
	Message         string    `json:"message"`
	EventExternalID string    `json:"event_external_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}
