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
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

func TestCreateCustomerIfAbsent_FirstSight(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	customer := model.Customer{
		ExternalID: "cus_stripe_001",
		Email:      "ada@example.com",
		Name:       "Ada Lovelace",
	}

	mock.ExpectExec("INSERT INTO recurra.customers").
		WithArgs(sqlmock.AnyArg(), customer.ExternalID, customer.Email, customer.Name, customer.OwnerID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	created, err := ds.CreateCustomerIfAbsent(context.Background(), &customer)
	assert.NoError(t, err)
	assert.NotEmpty(t, created.CustomerID)
	assert.WithinDuration(t, time.Now(), created.CreatedAt, time.Second)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCustomerIfAbsent_AlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	customer := model.Customer{
		ExternalID: "cus_stripe_001",
		Email:      "ada@example.com",
		Name:       "Ada Lovelace",
	}

	mock.ExpectExec("INSERT INTO recurra.customers").
		WithArgs(sqlmock.AnyArg(), customer.ExternalID, customer.Email, customer.Name, customer.OwnerID, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	storedAt := time.Now().Add(-24 * time.Hour)
	rows := sqlmock.NewRows([]string{"customer_id", "external_id", "email", "name", "owner_id", "created_at"}).
		AddRow("cust_stored", "cus_stripe_001", "ada@example.com", "Ada Lovelace", "", storedAt)

	mock.ExpectQuery("SELECT customer_id, external_id, email, name, owner_id, created_at").
		WithArgs("cus_stripe_001").
		WillReturnRows(rows)

	existing, err := ds.CreateCustomerIfAbsent(context.Background(), &customer)
	assert.NoError(t, err)
	assert.Equal(t, "cust_stored", existing.CustomerID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCustomerByExternalID_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectQuery("SELECT customer_id, external_id, email, name, owner_id, created_at").
		WithArgs("cus_missing").
		WillReturnError(sql.ErrNoRows)

	_, err = ds.GetCustomerByExternalID(context.Background(), "cus_missing")
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrNotFound, apiErr.Code)
}

func TestGetCustomerByID_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	rows := sqlmock.NewRows([]string{"customer_id", "external_id", "email", "name", "owner_id", "created_at"}).
		AddRow("cust_123", "cus_stripe_001", "ada@example.com", "Ada Lovelace", "", time.Now())

	mock.ExpectQuery("SELECT customer_id, external_id, email, name, owner_id, created_at").
		WithArgs("cust_123").
		WillReturnRows(rows)

	customer, err := ds.GetCustomerByID(context.Background(), "cust_123")
	assert.NoError(t, err)
	assert.Equal(t, "cus_stripe_001", customer.ExternalID)
}
