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
	"net/http"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"

	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/internal/request"
	"github.com/recurrahq/recurra/model"
)

// EmailMessage is the payload handed to the mailer worker.
type EmailMessage struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Kind    string `json:"kind"`
}

// sendReceiptEmail queues a payment receipt. Queueing failures are logged
// and dropped; receipts never gate the payment pathway.
func (r *Recurra) sendReceiptEmail(inv *model.Invoice, result *model.PaymentResult) {
	customer, err := r.datasource.GetCustomerByID(context.Background(), inv.CustomerID)
	if err != nil || customer.Email == "" {
		return
	}

	msg := &EmailMessage{
		To:      customer.Email,
		Subject: "Payment received",
		Body:    fmt.Sprintf("We received your payment of %s %s for invoice %s. Thank you!", result.AmountPaid, inv.Currency, inv.ExternalID),
		Kind:    "receipt",
	}
	if err := r.queue.EnqueueEmail(msg); err != nil {
		logrus.Error(err)
	}
}

// sendDunningEmail queues the payment reminder for a due dunning attempt.
func (r *Recurra) sendDunningEmail(customer *model.Customer, inv *model.Invoice, attempt *model.DunningAttempt) {
	if customer.Email == "" {
		return
	}

	msg := &EmailMessage{
		To:      customer.Email,
		Subject: "Payment reminder",
		Body: fmt.Sprintf("Your payment of %s %s for invoice %s did not go through (attempt %d). Please update your payment method.",
			inv.AmountDue, inv.Currency, inv.ExternalID, attempt.AttemptNumber),
		Kind: "dunning",
	}
	if err := r.queue.EnqueueEmail(msg); err != nil {
		logrus.Error(err)
	}
}

// ProcessEmail is the asynq handler that delivers one queued email through
// the configured mailer endpoint. With no mailer configured the task is
// dropped silently.
func (r *Recurra) ProcessEmail(ctx context.Context, t *asynq.Task) error {
	cfg, err := config.Fetch()
	if err != nil {
		return err
	}
	if cfg.Notification.Mailer.Url == "" {
		return nil
	}

	var msg EmailMessage
	if err := json.Unmarshal(t.Payload(), &msg); err != nil {
		return err
	}

	var response map[string]interface{}
	_, err = request.CallWithRetry(func() (*http.Request, error) {
		// Rebuilt per attempt; a retry must not reuse a drained body.
		payload, err := request.ToJsonReq(map[string]string{
			"to":      msg.To,
			"from":    cfg.Notification.Mailer.FromAddress,
			"subject": msg.Subject,
			"body":    msg.Body,
		})
		if err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Notification.Mailer.Url, payload)
		if err != nil {
			return nil, err
		}
		for key, value := range cfg.Notification.Mailer.Headers {
			req.Header.Set(key, value)
		}
		return req, nil
	}, &response, 3)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{"to": msg.To, "kind": msg.Kind}).Info("email delivered")
	return nil
}
