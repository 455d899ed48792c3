package model

import "time"

const (
	DunningStatusScheduled = "scheduled"
	DunningStatusExecuted  = "executed"
	DunningStatusAbandoned = "abandoned"
)

// DunningAttempt is a future local reminder checkpoint created for one
// observed payment failure. It is Recurra's own schedule, distinct from the
// processor's retry machinery.
type DunningAttempt struct {
	AttemptID      string    `json:"attempt_id"`
	InvoiceID      string    `json:"invoice_id"`
	SubscriptionID string    `json:"subscription_id,omitempty"`
	CustomerID     string    `json:"customer_id"`
	AttemptNumber  int       `json:"attempt_number"`
	RetryAt        time.Time `json:"retry_at"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}
