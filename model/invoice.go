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
	InvoiceStatusOpen          = "open"
	InvoiceStatusPaid          = "paid"
	InvoiceStatusVoid          = "void"
	InvoiceStatusUncollectible = "uncollectible"
)

// Invoice tracks a single billing document through payment and dunning.
// RetryCount only ever increases on failure and resets to zero on success;
// PaymentFailedAt and NextRetryAt are cleared together with the reset.
type Invoice struct {
	InvoiceID             string          `json:"invoice_id"`
	ExternalID            string          `json:"external_id"`
	SubscriptionID        string          `json:"subscription_id,omitempty"`
	CustomerID            string          `json:"customer_id"`
	Status                string          `json:"status"`
	AmountDue             decimal.Decimal `json:"amount_due"`
	AmountPaid            decimal.Decimal `json:"amount_paid"`
	Currency              string          `json:"currency"`
	RetryCount            int             `json:"retry_count"`
	PaymentFailedAt       *time.Time      `json:"payment_failed_at,omitempty"`
	NextRetryAt           *time.Time      `json:"next_retry_at,omitempty"`
	LastFinalizationError string          `json:"last_finalization_error,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// InvoiceLineItem is a single line on an invoice, inserted once with the
// idempotent invoice create.
type InvoiceLineItem struct {
	LineID      string          `json:"line_id"`
	InvoiceID   string          `json:"invoice_id"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Quantity    int             `json:"quantity"`
}

// ValidInvoiceStatus reports whether s is one of the local status set.
func ValidInvoiceStatus(s string) bool {
	switch s {
	case InvoiceStatusOpen, InvoiceStatusPaid, InvoiceStatusVoid, InvoiceStatusUncollectible:
		return true
	}
	return false
}
