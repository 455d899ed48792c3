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
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

// CreateCustomerIfAbsent materializes a customer keyed on the processor's
// external id. When the external id already exists the stored row is
// returned untouched; first-sight creation must not clobber later state.
func (d Datasource) CreateCustomerIfAbsent(ctx context.Context, customer *model.Customer) (*model.Customer, error) {
	customer.CustomerID = model.GenerateUUIDWithSuffix("cust")
	customer.CreatedAt = time.Now()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recurra.customers (customer_id, external_id, email, name, owner_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (external_id) DO NOTHING
	`, customer.CustomerID, customer.ExternalID, customer.Email, customer.Name, customer.OwnerID, customer.CreatedAt)

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() != "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
		}
		if !ok {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create customer", err)
		}
	} else {
		rows, err := result.RowsAffected()
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read insert result", err)
		}
		if rows == 1 {
			return customer, nil
		}
	}

	// Lost the race or the row predates us; hand back what is stored.
	existing, err := d.GetCustomerByExternalID(ctx, customer.ExternalID)
	if err != nil {
		return nil, err
	}
	return existing, nil
}

func (d Datasource) GetCustomerByExternalID(ctx context.Context, externalID string) (*model.Customer, error) {
	if d.Cache != nil {
		customer := model.Customer{}
		if err := d.Cache.Get(ctx, customerCacheKey(externalID), &customer); err == nil && customer.CustomerID != "" {
			return &customer, nil
		}
	}

	customer := model.Customer{}
	row := d.Conn.QueryRowContext(ctx, `
		SELECT customer_id, external_id, email, name, owner_id, created_at
		FROM recurra.customers
		WHERE external_id = $1
	`, externalID)

	err := row.Scan(&customer.CustomerID, &customer.ExternalID, &customer.Email, &customer.Name, &customer.OwnerID, &customer.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Customer not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve customer", err)
	}

	if d.Cache != nil {
		_ = d.Cache.Set(ctx, customerCacheKey(externalID), customer, 5*time.Minute)
	}

	return &customer, nil
}

func (d Datasource) GetCustomerByID(ctx context.Context, id string) (*model.Customer, error) {
	customer := model.Customer{}
	row := d.Conn.QueryRowContext(ctx, `
		SELECT customer_id, external_id, email, name, owner_id, created_at
		FROM recurra.customers
		WHERE customer_id = $1
	`, id)

	err := row.Scan(&customer.CustomerID, &customer.ExternalID, &customer.Email, &customer.Name, &customer.OwnerID, &customer.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Customer not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve customer", err)
	}

	return &customer, nil
}

func customerCacheKey(externalID string) string {
	return fmt.Sprintf("customer:external:%s", externalID)
}
