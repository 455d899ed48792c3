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
package mocks

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"

	"github.com/recurrahq/recurra/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Event methods

func (m *MockDataSource) RecordEventIfNew(ctx context.Context, evt *model.InboundEvent) (bool, error) {
	args := m.Called(ctx, evt)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) MarkEventProcessed(ctx context.Context, externalID string, processingError string) error {
	args := m.Called(ctx, externalID, processingError)
	return args.Error(0)
}

func (m *MockDataSource) GetEventByExternalID(ctx context.Context, externalID string) (*model.InboundEvent, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.InboundEvent), args.Error(1)
}

func (m *MockDataSource) GetEvents(ctx context.Context, status string, limit, offset int) ([]*model.InboundEvent, error) {
	args := m.Called(ctx, status, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.InboundEvent), args.Error(1)
}

// Customer methods

func (m *MockDataSource) CreateCustomerIfAbsent(ctx context.Context, customer *model.Customer) (*model.Customer, error) {
	args := m.Called(ctx, customer)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func (m *MockDataSource) GetCustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

func (m *MockDataSource) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Customer), args.Error(1)
}

// Subscription methods

func (m *MockDataSource) CreateSubscription(ctx context.Context, sub *model.Subscription, reason string) (*model.Subscription, error) {
	args := m.Called(ctx, sub, reason)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Subscription), args.Error(1)
}

func (m *MockDataSource) UpdateSubscriptionStatus(ctx context.Context, sub *model.Subscription, toStatus, reason string, endedAt *time.Time) error {
	args := m.Called(ctx, sub, toStatus, reason, endedAt)
	if args.Error(0) == nil {
		sub.Status = toStatus
		sub.EndedAt = endedAt
	}
	return args.Error(0)
}

func (m *MockDataSource) RefreshSubscription(ctx context.Context, sub *model.Subscription) error {
	args := m.Called(ctx, sub)
	return args.Error(0)
}

func (m *MockDataSource) GetStateTransitions(ctx context.Context, subscriptionID string) ([]model.SubscriptionStateTransition, error) {
	args := m.Called(ctx, subscriptionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.SubscriptionStateTransition), args.Error(1)
}

// Invoice methods

func (m *MockDataSource) CreateInvoiceIfAbsent(ctx context.Context, inv *model.Invoice, lines []model.InvoiceLineItem) (*model.Invoice, error) {
	args := m.Called(ctx, inv, lines)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) GetInvoiceByExternalID(ctx context.Context, externalID string) (*model.Invoice, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) GetInvoiceByID(ctx context.Context, id string) (*model.Invoice, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Invoice), args.Error(1)
}

func (m *MockDataSource) MarkInvoicePaid(ctx context.Context, invoiceID string, amountPaid decimal.Decimal) error {
	args := m.Called(ctx, invoiceID, amountPaid)
	return args.Error(0)
}

func (m *MockDataSource) RecordPaymentFailure(ctx context.Context, inv *model.Invoice, attempt *model.DunningAttempt) error {
	args := m.Called(ctx, inv, attempt)
	return args.Error(0)
}

// Dunning methods

func (m *MockDataSource) GetDunningAttempt(ctx context.Context, attemptID string) (*model.DunningAttempt, error) {
	args := m.Called(ctx, attemptID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DunningAttempt), args.Error(1)
}

func (m *MockDataSource) UpdateDunningAttemptStatus(ctx context.Context, attemptID, status string) error {
	args := m.Called(ctx, attemptID, status)
	return args.Error(0)
}

func (m *MockDataSource) AbandonScheduledAttempts(ctx context.Context, invoiceID string) (int64, error) {
	args := m.Called(ctx, invoiceID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) GetScheduledAttempts(ctx context.Context, limit, offset int) ([]*model.DunningAttempt, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DunningAttempt), args.Error(1)
}

func (m *MockDataSource) GetScheduledAttemptsByInvoice(ctx context.Context, invoiceID string) ([]*model.DunningAttempt, error) {
	args := m.Called(ctx, invoiceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.DunningAttempt), args.Error(1)
}

// Ledger methods

func (m *MockDataSource) RecordBillingTransaction(ctx context.Context, txn *model.Transaction) error {
	args := m.Called(ctx, txn)
	return args.Error(0)
}

func (m *MockDataSource) RecordBillingHistory(ctx context.Context, entry *model.BillingHistoryEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *MockDataSource) RecordEventLog(ctx context.Context, entry *model.EventLog) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}
