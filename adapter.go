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

package recurra

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/shopspring/decimal"

	"github.com/recurrahq/recurra/model"
)

// The adapter layer is the only place that reads processor field names.
// Handlers receive the model command structs; if the processor renames a
// field, the blast radius is this file.

// wireCustomer is the processor's customer object.
type wireCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

// wireSubscription is the processor's subscription object. Money arrives in
// integer cents; timestamps are unix seconds.
type wireSubscription struct {
	ID                 string       `json:"id"`
	Customer           string       `json:"customer"`
	CustomerObject     *wireCustomer `json:"customer_object"`
	Status             string       `json:"status"`
	CurrentPeriodStart int64        `json:"current_period_start"`
	CurrentPeriodEnd   int64        `json:"current_period_end"`
	TrialEnd           int64        `json:"trial_end"`
	CanceledAt         int64        `json:"canceled_at"`
	Plan               struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Interval string `json:"interval"`
	} `json:"plan"`
}

// wireInvoice is the processor's invoice object, shared by invoice.created
// and the two payment outcome events.
type wireInvoice struct {
	ID                    string `json:"id"`
	Subscription          string `json:"subscription"`
	Customer              string `json:"customer"`
	Status                string `json:"status"`
	AmountDue             int64  `json:"amount_due"`
	AmountPaid            int64  `json:"amount_paid"`
	Currency              string `json:"currency"`
	LastFinalizationError struct {
		Message string `json:"message"`
	} `json:"last_finalization_error"`
	Lines struct {
		Data []struct {
			Description string `json:"description"`
			Amount      int64  `json:"amount"`
			Quantity    int    `json:"quantity"`
		} `json:"data"`
	} `json:"lines"`
}

// subscriptionStatusMap normalizes processor statuses onto the local set.
// Processor states with no local meaning (incomplete variants) map to their
// closest local status.
var subscriptionStatusMap = map[string]string{
	"trialing":           model.SubscriptionStatusTrialing,
	"active":             model.SubscriptionStatusActive,
	"past_due":           model.SubscriptionStatusPastDue,
	"unpaid":             model.SubscriptionStatusPastDue,
	"paused":             model.SubscriptionStatusPaused,
	"canceled":           model.SubscriptionStatusCanceled,
	"incomplete":         model.SubscriptionStatusTrialing,
	"incomplete_expired": model.SubscriptionStatusCanceled,
}

// decodeObject maps the envelope's data.object into a wire struct using
// json-tagged mapstructure decoding.
func decodeObject(raw json.RawMessage, out interface{}) error {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(m)
}

// centsToDecimal converts the processor's integer minor units into a
// decimal major-unit amount.
func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func unixOrNil(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0)
	return &t
}

func customerUpsertFromWire(w *wireCustomer) *model.CustomerUpsert {
	return &model.CustomerUpsert{
		ExternalID: w.ID,
		Email:      w.Email,
		Name:       w.Name,
		OwnerID:    w.Metadata["owner_id"],
	}
}

func customerUpsertFromEnvelope(envelope *eventEnvelope) (*model.CustomerUpsert, error) {
	var w wireCustomer
	if err := decodeObject(envelope.Data.Object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("customer object missing id")
	}
	return customerUpsertFromWire(&w), nil
}

func subscriptionChangeFromEnvelope(envelope *eventEnvelope) (*model.SubscriptionChange, error) {
	var w wireSubscription
	if err := decodeObject(envelope.Data.Object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("subscription object missing id")
	}
	if w.Customer == "" {
		return nil, fmt.Errorf("subscription object missing customer")
	}

	status, ok := subscriptionStatusMap[w.Status]
	if !ok {
		return nil, fmt.Errorf("unknown subscription status %q", w.Status)
	}

	change := &model.SubscriptionChange{
		ExternalID:         w.ID,
		CustomerExternalID: w.Customer,
		Status:             status,
		Amount:             centsToDecimal(w.Plan.Amount),
		Currency:           w.Plan.Currency,
		BillingInterval:    w.Plan.Interval,
		CurrentPeriodStart: time.Unix(w.CurrentPeriodStart, 0),
		CurrentPeriodEnd:   time.Unix(w.CurrentPeriodEnd, 0),
		TrialEnd:           unixOrNil(w.TrialEnd),
		CanceledAt:         unixOrNil(w.CanceledAt),
		EventTimestamp:     envelope.createdTime(),
		Reason:             envelope.Type,
	}
	if w.CustomerObject != nil && w.CustomerObject.ID != "" {
		change.Customer = customerUpsertFromWire(w.CustomerObject)
	}
	return change, nil
}

func invoiceCreateFromEnvelope(envelope *eventEnvelope) (*model.InvoiceCreate, error) {
	var w wireInvoice
	if err := decodeObject(envelope.Data.Object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("invoice object missing id")
	}
	if w.Customer == "" {
		return nil, fmt.Errorf("invoice object missing customer")
	}

	create := &model.InvoiceCreate{
		ExternalID:             w.ID,
		SubscriptionExternalID: w.Subscription,
		CustomerExternalID:     w.Customer,
		AmountDue:              centsToDecimal(w.AmountDue),
		Currency:               w.Currency,
	}
	for _, line := range w.Lines.Data {
		create.Lines = append(create.Lines, model.InvoiceLineItem{
			Description: line.Description,
			Amount:      centsToDecimal(line.Amount),
			Quantity:    line.Quantity,
		})
	}
	return create, nil
}

func paymentResultFromEnvelope(envelope *eventEnvelope) (*model.PaymentResult, error) {
	var w wireInvoice
	if err := decodeObject(envelope.Data.Object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, fmt.Errorf("invoice object missing id")
	}

	return &model.PaymentResult{
		InvoiceExternalID:      w.ID,
		SubscriptionExternalID: w.Subscription,
		CustomerExternalID:     w.Customer,
		AmountPaid:             centsToDecimal(w.AmountPaid),
		FailureReason:          w.LastFinalizationError.Message,
		OccurredAt:             envelope.createdTime(),
	}, nil
}
