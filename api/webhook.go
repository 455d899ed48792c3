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
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const (
	// SignatureHeader carries the processor's "t=...,v1=..." signature.
	SignatureHeader = "X-Processor-Signature"

	maxWebhookBody = 1 << 20 // 1MB

	processingTimeout = 60 * time.Second
)

// ReceiveWebhook is the intake endpoint for processor deliveries. The body
// must be kept as raw bytes: the signature covers the exact bytes on the
// wire. Signature and envelope failures surface synchronously; everything
// past the recorded event row is acknowledged before handlers run, so a slow
// database can never push the processor into its retry loop.
func (a Api) ReceiveWebhook(c *gin.Context) {
	rawPayload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return
	}

	sigHeader := c.GetHeader(SignatureHeader)

	// Detach from the request context; the ack must not cancel processing.
	ctx, cancel := context.WithTimeout(context.Background(), processingTimeout)
	go func() {
		defer cancel()
		if _, _, err := a.recurra.IngestEvent(ctx, rawPayload, sigHeader); err != nil {
			logrus.Error(err)
		}
	}()

	// The processor only needs to know the delivery arrived. Signature
	// failures are logged and leave no event row; the outcome is never
	// reported synchronously.
	c.JSON(http.StatusOK, gin.H{"received": true})
}
