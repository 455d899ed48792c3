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
	"net/http"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/hibiken/asynq"
	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"

	"github.com/recurrahq/recurra/config"
	"github.com/recurrahq/recurra/database/mocks"
)

func newMailerRecurra(t *testing.T, mailerURL string) *Recurra {
	t.Helper()
	mr := miniredis.RunT(t)
	config.MockConfig(&config.Configuration{
		Redis: config.RedisConfig{Dns: mr.Addr()},
		Processor: config.ProcessorConfig{
			WebhookSecret:         testWebhookSecret,
			SignatureToleranceSec: 300,
		},
		Notification: config.Notification{
			Mailer: config.MailerConfig{
				Url:         mailerURL,
				FromAddress: "billing@recurra.dev",
				Headers:     map[string]string{"Authorization": "Bearer mailer-token"},
			},
		},
	})

	r, err := NewRecurra(&mocks.MockDataSource{})
	assert.NoError(t, err)
	return r
}

func emailTask(t *testing.T, msg *EmailMessage) *asynq.Task {
	t.Helper()
	payload, err := json.Marshal(msg)
	assert.NoError(t, err)
	return asynq.NewTask("new:email", payload)
}

func TestProcessEmail_DeliversThroughMailer(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	r := newMailerRecurra(t, "http://mailer.local/send")

	var seenAuth string
	httpmock.RegisterResponder("POST", "http://mailer.local/send",
		func(req *http.Request) (*http.Response, error) {
			seenAuth = req.Header.Get("Authorization")
			return httpmock.NewJsonResponse(200, map[string]string{"status": "sent"})
		})

	msg := &EmailMessage{
		To:      gofakeit.Email(),
		Subject: "Payment received",
		Body:    "We received your payment. Thank you!",
		Kind:    "receipt",
	}
	err := r.ProcessEmail(context.Background(), emailTask(t, msg))
	assert.NoError(t, err)
	assert.Equal(t, 1, httpmock.GetTotalCallCount())
	assert.Equal(t, "Bearer mailer-token", seenAuth)
}

func TestProcessEmail_NoMailerConfiguredDropsTask(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	r := newMailerRecurra(t, "")

	msg := &EmailMessage{To: gofakeit.Email(), Subject: "Payment reminder", Kind: "dunning"}
	err := r.ProcessEmail(context.Background(), emailTask(t, msg))
	assert.NoError(t, err)
	assert.Equal(t, 0, httpmock.GetTotalCallCount())
}

func TestProcessEmail_ServerErrorSurfacesAfterRetries(t *testing.T) {
	httpmock.Activate()
	defer httpmock.DeactivateAndReset()

	r := newMailerRecurra(t, "http://mailer.local/send")

	httpmock.RegisterResponder("POST", "http://mailer.local/send",
		httpmock.NewStringResponder(500, `{"error": "mailer down"}`))

	msg := &EmailMessage{To: gofakeit.Email(), Subject: "Payment reminder", Kind: "dunning"}
	err := r.ProcessEmail(context.Background(), emailTask(t, msg))
	assert.Error(t, err)
}
