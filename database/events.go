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
	"time"

	"github.com/lib/pq"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

// RecordEventIfNew inserts the event row keyed on the processor's external
// id. The insert is the idempotency gate: a single atomic statement decides
// whether this delivery is first. It returns false, without error, when the
// external id was already recorded.
func (d Datasource) RecordEventIfNew(ctx context.Context, evt *model.InboundEvent) (bool, error) {
	evt.EventID = model.GenerateUUIDWithSuffix("evt")
	evt.ReceivedAt = time.Now()

	result, err := d.Conn.ExecContext(ctx, `
		INSERT INTO recurra.inbound_events (event_id, external_id, type, received_at, raw_payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO NOTHING
	`, evt.EventID, evt.ExternalID, evt.Type, evt.ReceivedAt, []byte(evt.RawPayload))

	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok {
			switch pqErr.Code.Name() {
			case "unique_violation":
				return false, nil
			default:
				return false, apierror.NewAPIError(apierror.ErrInternalServer, "Database error occurred", err)
			}
		}
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record event", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read insert result", err)
	}

	return rows == 1, nil
}

// MarkEventProcessed stamps the outcome of a processing pass. An empty
// processingError records success. Safe to call again on replay; the stamp
// reflects the latest pass.
func (d Datasource) MarkEventProcessed(ctx context.Context, externalID string, processingError string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE recurra.inbound_events
		SET processed_at = NOW(), processing_error = $2
		WHERE external_id = $1
	`, externalID, processingError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to mark event processed", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to read update result", err)
	}
	if rows == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, "Event not found", sql.ErrNoRows)
	}

	return nil
}

func (d Datasource) GetEventByExternalID(ctx context.Context, externalID string) (*model.InboundEvent, error) {
	evt := model.InboundEvent{}
	var processingError sql.NullString
	var rawPayload []byte

	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, external_id, type, received_at, processed_at, processing_error, raw_payload
		FROM recurra.inbound_events
		WHERE external_id = $1
	`, externalID)

	err := row.Scan(&evt.EventID, &evt.ExternalID, &evt.Type, &evt.ReceivedAt, &evt.ProcessedAt, &processingError, &rawPayload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, "Event not found", err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve event", err)
	}

	evt.ProcessingError = processingError.String
	evt.RawPayload = rawPayload

	return &evt, nil
}

// GetEvents lists event rows newest first. status filters to "pending"
// (never processed), "failed" (processed with an error), or "processed";
// an empty status returns everything.
func (d Datasource) GetEvents(ctx context.Context, status string, limit, offset int) ([]*model.InboundEvent, error) {
	query := `
		SELECT event_id, external_id, type, received_at, processed_at, processing_error, raw_payload
		FROM recurra.inbound_events
	`
	switch status {
	case "pending":
		query += " WHERE processed_at IS NULL"
	case "failed":
		query += " WHERE processed_at IS NOT NULL AND processing_error <> ''"
	case "processed":
		query += " WHERE processed_at IS NOT NULL AND processing_error = ''"
	case "":
	default:
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Unknown event status filter", nil)
	}
	query += " ORDER BY received_at DESC LIMIT $1 OFFSET $2"

	rows, err := d.Conn.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve events", err)
	}
	defer rows.Close()

	events := []*model.InboundEvent{}
	for rows.Next() {
		evt := model.InboundEvent{}
		var processingError sql.NullString
		var rawPayload []byte
		err = rows.Scan(&evt.EventID, &evt.ExternalID, &evt.Type, &evt.ReceivedAt, &evt.ProcessedAt, &processingError, &rawPayload)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan event data", err)
		}
		evt.ProcessingError = processingError.String
		evt.RawPayload = rawPayload
		events = append(events, &evt)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over events", err)
	}

	return events, nil
}
