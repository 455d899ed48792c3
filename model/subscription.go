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
	SubscriptionStatusTrialing = "trialing"
	SubscriptionStatusActive   = "active"
	SubscriptionStatusPastDue  = "past_due"
	SubscriptionStatusPaused   = "paused"
	SubscriptionStatusCanceled = "canceled"
)

// Subscription is the mutable current-state row for a recurring billing
// agreement. Status is only ever changed by the subscription state machine,
// which appends a SubscriptionStateTransition in the same transaction.
type Subscription struct {
	SubscriptionID     string          `json:"subscription_id"`
	ExternalID         string          `json:"external_id"`
	CustomerID         string          `json:"customer_id"`
	Status             string          `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	BillingInterval    string          `json:"billing_interval"`
	CurrentPeriodStart time.Time       `json:"current_period_start"`
	CurrentPeriodEnd   time.Time       `json:"current_period_end"`
	TrialEnd           *time.Time      `json:"trial_end,omitempty"`
	CanceledAt         *time.Time      `json:"canceled_at,omitempty"`
	EndedAt            *time.Time      `json:"ended_at,omitempty"`
	LastEventTimestamp time.Time       `json:"last_event_timestamp"`
	CreatedAt          time.Time       `json:"created_at"`
}

// SubscriptionStateTransition is the append-only audit row for a status
// change. FromStatus is nil for the creation transition.
type SubscriptionStateTransition struct {
	TransitionID   string     `json:"transition_id"`
	SubscriptionID string     `json:"subscription_id"`
	FromStatus     *string    `json:"from_status,omitempty"`
	ToStatus       string     `json:"to_status"`
	Reason         string     `json:"reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// ValidSubscriptionStatus reports whether s is one of the local status set.
func ValidSubscriptionStatus(s string) bool {
	switch s {
	case SubscriptionStatusTrialing, SubscriptionStatusActive, SubscriptionStatusPastDue,
		SubscriptionStatusPaused, SubscriptionStatusCanceled:
		return true
	}
	return false
}

// TerminalSubscriptionStatus reports whether s admits no further transitions.
func TerminalSubscriptionStatus(s string) bool {
	return s == SubscriptionStatusCanceled
}
