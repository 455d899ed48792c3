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
	"net/http"

	"github.com/gin-gonic/gin"

	model2 "github.com/recurrahq/recurra/api/model"
	"github.com/recurrahq/recurra/internal/apierror"
)

func (a Api) GetCustomer(c *gin.Context) {
	externalID, passed := c.Params.Get("external_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id is required. pass it in the route /:external_id"})
		return
	}

	resp, err := a.recurra.GetCustomer(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSubscription(c *gin.Context) {
	externalID, passed := c.Params.Get("external_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id is required. pass it in the route /:external_id"})
		return
	}

	resp, err := a.recurra.GetSubscription(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// GetSubscriptionTransitions returns the immutable status history, oldest
// first. The route takes the processor external id; transitions are stored
// against the local row.
func (a Api) GetSubscriptionTransitions(c *gin.Context) {
	externalID, passed := c.Params.Get("external_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id is required. pass it in the route /:external_id"})
		return
	}

	sub, err := a.recurra.GetSubscription(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	resp, err := a.recurra.GetSubscriptionTransitions(c.Request.Context(), sub.SubscriptionID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetInvoice(c *gin.Context) {
	externalID, passed := c.Params.Get("external_id")
	if !passed {
		c.JSON(http.StatusBadRequest, gin.H{"error": "external_id is required. pass it in the route /:external_id"})
		return
	}

	resp, err := a.recurra.GetInvoice(c.Request.Context(), externalID)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetDunningAttempts(c *gin.Context) {
	var query model2.ListDunningQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := query.ValidateListDunningQuery(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.recurra.GetScheduledDunningAttempts(c.Request.Context(), query.Limit, query.Offset)
	if err != nil {
		c.JSON(apierror.MapErrorToHTTPStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}
