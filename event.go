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
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/internal/signature"
	"github.com/recurrahq/recurra/model"
)

// Event types understood by the pipeline. Anything else is acknowledged,
// logged, and dropped without error.
const (
	EventCustomerCreated     = "customer.created"
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoiceCreated      = "invoice.created"
	EventPaymentSucceeded    = "invoice.payment_succeeded"
	EventPaymentFailed       = "invoice.payment_failed"
)

type eventHandler func(ctx context.Context, evt *model.InboundEvent) error

func (r *Recurra) eventHandlers() map[string]eventHandler {
	return map[string]eventHandler{
		EventCustomerCreated:     r.handleCustomerCreated,
		EventSubscriptionCreated: r.handleSubscriptionCreated,
		EventSubscriptionUpdated: r.handleSubscriptionUpdated,
		EventSubscriptionDeleted: r.handleSubscriptionDeleted,
		EventInvoiceCreated:      r.handleInvoiceCreated,
		EventPaymentSucceeded:    r.handlePaymentSucceeded,
		EventPaymentFailed:       r.handlePaymentFailed,
	}
}

// IngestEvent is the full intake path for one webhook delivery: verify the
// signature over the raw bytes, record the event row, and run a processing
// pass. The returned event reflects the recorded row; isNew is false when
// the external id had been seen before, in which case no handler runs.
func (r *Recurra) IngestEvent(ctx context.Context, rawPayload []byte, sigHeader string) (*model.InboundEvent, bool, error) {
	cfg, err := config.Fetch()
	if err != nil {
		return nil, false, err
	}

	tolerance := time.Duration(cfg.Processor.SignatureToleranceSec) * time.Second
	if err := signature.Verify(rawPayload, sigHeader, cfg.Processor.WebhookSecret, tolerance); err != nil {
		// Rejected deliveries leave no trace in the event store.
		return nil, false, apierror.NewAPIError(apierror.ErrUnauthorized, "Webhook signature verification failed", err)
	}

	envelope, err := parseEnvelope(rawPayload)
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrBadRequest, "Malformed event payload", err)
	}

	evt := &model.InboundEvent{
		ExternalID: envelope.ID,
		Type:       envelope.Type,
		RawPayload: rawPayload,
	}

	isNew, err := r.datasource.RecordEventIfNew(ctx, evt)
	if err != nil {
		return nil, false, err
	}
	if !isNew {
		logrus.WithField("event", envelope.ID).Info("duplicate delivery ignored")
		return evt, false, nil
	}

	r.ProcessEvent(ctx, evt)
	return evt, true, nil
}

// ProcessEvent runs the handler for one recorded event and stamps the
// outcome. Handler errors are captured on the event row, never returned to
// the transport; the delivery was already acknowledged.
func (r *Recurra) ProcessEvent(ctx context.Context, evt *model.InboundEvent) {
	handler, ok := r.handlers[evt.Type]
	if !ok {
		logrus.WithFields(logrus.Fields{"event": evt.ExternalID, "type": evt.Type}).Warn("unhandled event type, dropping")
		r.logEvent(ctx, model.LogSeverityWarning, fmt.Sprintf("dropped event of unhandled type %s", evt.Type), evt.ExternalID)
		if err := r.datasource.MarkEventProcessed(ctx, evt.ExternalID, ""); err != nil {
			logrus.Error(err)
		}
		return
	}

	processingError := ""
	if err := handler(ctx, evt); err != nil {
		processingError = err.Error()
		logrus.WithFields(logrus.Fields{"event": evt.ExternalID, "type": evt.Type}).Error(err)
		r.logEvent(ctx, model.LogSeverityError, processingError, evt.ExternalID)
	}

	if err := r.datasource.MarkEventProcessed(ctx, evt.ExternalID, processingError); err != nil {
		logrus.Error(err)
	}
}

// ReplayEvent reruns processing for a stored event, typically after a
// handler bug fix. The stored raw payload is used as-is; no signature check
// applies because the row was verified at intake.
func (r *Recurra) ReplayEvent(ctx context.Context, externalID string) (*model.InboundEvent, error) {
	evt, err := r.datasource.GetEventByExternalID(ctx, externalID)
	if err != nil {
		return nil, err
	}

	r.ProcessEvent(ctx, evt)

	return r.datasource.GetEventByExternalID(ctx, externalID)
}

// GetEvent returns one stored event row by its processor external id.
func (r *Recurra) GetEvent(ctx context.Context, externalID string) (*model.InboundEvent, error) {
	return r.datasource.GetEventByExternalID(ctx, externalID)
}

// GetEvents lists stored events filtered by processing status.
func (r *Recurra) GetEvents(ctx context.Context, status string, limit, offset int) ([]*model.InboundEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.datasource.GetEvents(ctx, status, limit, offset)
}

// eventEnvelope is the outer wire shape shared by every processor event.
type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (e *eventEnvelope) createdTime() time.Time {
	if e.Created == 0 {
		return time.Now()
	}
	return time.Unix(e.Created, 0)
}

func parseEnvelope(rawPayload []byte) (*eventEnvelope, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(rawPayload, &envelope); err != nil {
		return nil, err
	}
	if envelope.ID == "" {
		return nil, fmt.Errorf("event payload missing id")
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("event payload missing type")
	}
	return &envelope, nil
}
