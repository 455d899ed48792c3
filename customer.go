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
	"context"

	"github.com/recurrahq/recurra/model"
)

// handleCustomerCreated materializes the customer record for a
// customer.created event. Redelivery is harmless: creation is keyed on the
// external id and never overwrites.
func (r *Recurra) handleCustomerCreated(ctx context.Context, evt *model.InboundEvent) error {
	envelope, err := parseEnvelope(evt.RawPayload)
	if err != nil {
		return err
	}
	upsert, err := customerUpsertFromEnvelope(envelope)
	if err != nil {
		return err
	}

	customer, err := r.resolveOrCreateCustomer(ctx, upsert)
	if err != nil {
		return err
	}

	r.auditHistory(ctx, &model.BillingHistoryEntry{
		CustomerID:  customer.CustomerID,
		Kind:        "customer_created",
		Description: "customer materialized from processor event",
	})
	return nil
}

// resolveOrCreateCustomer is the customer resolver: external-id lookup with
// create-on-first-sight. Customers are the only entity created implicitly
// this way.
func (r *Recurra) resolveOrCreateCustomer(ctx context.Context, upsert *model.CustomerUpsert) (*model.Customer, error) {
	return r.datasource.CreateCustomerIfAbsent(ctx, &model.Customer{
		ExternalID: upsert.ExternalID,
		Email:      upsert.Email,
		Name:       upsert.Name,
		OwnerID:    upsert.OwnerID,
	})
}

// GetCustomer returns a customer by its processor external id.
func (r *Recurra) GetCustomer(ctx context.Context, externalID string) (*model.Customer, error) {
	return r.datasource.GetCustomerByExternalID(ctx, externalID)
}
