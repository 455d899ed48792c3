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
	"github.com/gin-gonic/gin"

	"github.com/recurrahq/recurra"
	"github.com/recurrahq/recurra/api/middleware"
	"github.com/recurrahq/recurra/config"
)

type Api struct {
	recurra *recurra.Recurra
	router  *gin.Engine
}

// Router wires up the two route surfaces: the unauthenticated webhook
// endpoint (signature-verified per request) and the operator read API.
func (a Api) Router() *gin.Engine {
	router := a.router

	router.POST("/webhooks/processor", a.ReceiveWebhook)

	router.GET("/events/:id", a.GetEvent)
	router.GET("/events", a.GetEvents)
	router.POST("/events/:id/replay", a.ReplayEvent)

	router.GET("/customers/:external_id", a.GetCustomer)
	router.GET("/subscriptions/:external_id", a.GetSubscription)
	router.GET("/subscriptions/:external_id/transitions", a.GetSubscriptionTransitions)
	router.GET("/invoices/:external_id", a.GetInvoice)
	router.GET("/dunning-attempts", a.GetDunningAttempts)

	router.GET("/backup", a.BackupDB)
	router.GET("/backup-s3", a.BackupDBS3)

	return a.router
}

func NewAPI(r *recurra.Recurra) *Api {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil
	}
	router := gin.Default()
	router.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.Secure {
		router.Use(secretKeyExceptWebhook())
	}

	router.GET("/", func(c *gin.Context) {
		c.JSON(200, "server running...")
	})

	return &Api{recurra: r, router: router}
}

// secretKeyExceptWebhook applies the operator secret-key check everywhere
// but the webhook intake path, which carries its own authentication.
func secretKeyExceptWebhook() gin.HandlerFunc {
	auth := middleware.SecretKeyAuthMiddleware()
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/" || c.Request.URL.Path == "/webhooks/processor" {
			c.Next()
			return
		}
		auth(c)
	}
}
