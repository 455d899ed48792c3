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
	"time"

	"github.com/shopspring/decimal"

	"github.com/recurrahq/recurra/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	event        // Inbound event store and idempotency gate
	customer     // Customer materialization and lookup
	subscription // Subscription state machine rows
	invoice      // Invoice lifecycle and payment state
	dunning      // Local dunning attempt schedule
	ledger       // Append-only audit surfaces
}

// event defines methods for the inbound event store.
type event interface {
	RecordEventIfNew(ctx context.Context, evt *model.InboundEvent) (bool, error)              // Inserts the event row; false means the external id was already recorded
	MarkEventProcessed(ctx context.Context, externalID string, processingError string) error  // Stamps processed_at and the error outcome of a processing pass
	GetEventByExternalID(ctx context.Context, externalID string) (*model.InboundEvent, error) // Retrieves one event row
	GetEvents(ctx context.Context, status string, limit, offset int) ([]*model.InboundEvent, error)
}

// customer defines methods for customer materialization.
type customer interface {
	CreateCustomerIfAbsent(ctx context.Context, customer *model.Customer) (*model.Customer, error) // Creates the customer unless the external id already exists
	GetCustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*model.Customer, error)
}

// subscription defines methods for the subscription state machine.
type subscription interface {
	CreateSubscription(ctx context.Context, sub *model.Subscription, reason string) (*model.Subscription, error)                 // Inserts the row plus the creation transition atomically
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, sub *model.Subscription, toStatus, reason string, endedAt *time.Time) error    // Updates status and appends the transition in one transaction
	RefreshSubscription(ctx context.Context, sub *model.Subscription) error                                                      // Updates non-status fields without a transition row
	GetStateTransitions(ctx context.Context, subscriptionID string) ([]model.SubscriptionStateTransition, error)
}

// invoice defines methods for the invoice lifecycle.
type invoice interface {
	CreateInvoiceIfAbsent(ctx context.Context, inv *model.Invoice, lines []model.InvoiceLineItem) (*model.Invoice, error) // Creates invoice and lines unless the external id exists
	GetInvoiceByExternalID(ctx context.Context, externalID string) (*model.Invoice, error)
	GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error)
	MarkInvoicePaid(ctx context.Context, invoiceID string, amountPaid decimal.Decimal) error // Flips to paid and clears all failure state
	RecordPaymentFailure(ctx context.Context, inv *model.Invoice, attempt *model.DunningAttempt) error // Applies failure state and inserts the attempt row in one transaction
}

// dunning defines methods for the local reminder schedule.
type dunning interface {
	GetDunningAttempt(ctx context.Context, attemptID string) (*model.DunningAttempt, error)
	UpdateDunningAttemptStatus(ctx context.Context, attemptID, status string) error
	AbandonScheduledAttempts(ctx context.Context, invoiceID string) (int64, error) // Flips every scheduled attempt for the invoice to abandoned
	GetScheduledAttempts(ctx context.Context, limit, offset int) ([]*model.DunningAttempt, error)
	GetScheduledAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*model.DunningAttempt, error)
}

// ledger defines methods for the append-only audit surfaces. Callers treat
// every write here as best-effort.
type ledger interface {
	RecordBillingTransaction(ctx context.Context, txn *model.Transaction) error
	RecordBillingHistory(ctx context.Context, entry *model.BillingHistoryEntry) error
	RecordEventLog(ctx context.Context, entry *model.EventLog) error
}
