package model

import "time"

// Customer is a billing customer materialized from processor events. The
// external id is the processor's identifier and the only key events resolve
// against; resolution never guesses from email.
type Customer struct {
	CustomerID string    `json:"customer_id"`
	ExternalID string    `json:"external_id"`
	Email      string    `json:"email"`
	Name       string    `json:"name"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
}
