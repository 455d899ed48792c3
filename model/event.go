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
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// InboundEvent is the durable record of a single processor notification.
// One row exists per external event id; the row doubles as the idempotency
// ledger, so it is never deleted. Only ProcessedAt and ProcessingError are
// mutable after insert.
type InboundEvent struct {
	EventID         string          `json:"event_id"`
	ExternalID      string          `json:"external_id"`
	Type            string          `json:"type"`
	ReceivedAt      time.Time       `json:"received_at"`
	ProcessedAt     *time.Time      `json:"processed_at,omitempty"`
	ProcessingError string          `json:"processing_error,omitempty"`
	RawPayload      json.RawMessage `json:"raw_payload"`
}

// Processed reports whether the event has completed a processing pass,
// successfully or not.
func (e *InboundEvent) Processed() bool {
	return e.ProcessedAt != nil
}

// Failed reports whether the last processing pass recorded an error.
func (e *InboundEvent) Failed() bool {
	return e.ProcessedAt != nil && e.ProcessingError != ""
}

// CustomerUpsert is the internal command shape for customer materialization.
// Handlers never read processor field names directly; the adapter layer
// translates wire payloads into these commands.
type CustomerUpsert struct {
	ExternalID string
	Email      string
	Name       string
	OwnerID    string
}

// SubscriptionChange carries a processor-reported subscription state into the
// state machine. Status is already normalized to the local status set.
type SubscriptionChange struct {
	ExternalID         string
	CustomerExternalID string
	Status             string
	Amount             decimal.Decimal
	Currency           string
	BillingInterval    string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	TrialEnd           *time.Time
	CanceledAt         *time.Time
	EventTimestamp     time.Time
	Reason             string
	Customer           *CustomerUpsert
}

// InvoiceCreate is the internal command for invoice.created events.
type InvoiceCreate struct {
	ExternalID             string
	SubscriptionExternalID string
	CustomerExternalID     string
	AmountDue              decimal.Decimal
	Currency               string
	Lines                  []InvoiceLineItem
}

// PaymentResult is the internal command for payment outcome events, shared by
// the success and failure pathways.
type PaymentResult struct {
	InvoiceExternalID      string
	SubscriptionExternalID string
	CustomerExternalID     string
	AmountPaid             decimal.Decimal
	FailureReason          string
	OccurredAt             time.Time
}
