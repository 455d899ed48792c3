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
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/recurrahq/recurra/internal/apierror"
	"github.com/recurrahq/recurra/model"
)

func subscriptionEventPayload(eventID, eventType, subID, customerID, status string, created time.Time) []byte {
	return []byte(fmt.Sprintf(`{
		"id": %q,
		"type": %q,
		"created": %d,
		"data": {"object": {
			"id": %q,
			"customer": %q,
			"status": %q,
			"current_period_start": %d,
			"current_period_end": %d,
			"plan": {"amount": 2900, "currency": "usd", "interval": "month"}
		}}
	}`, eventID, eventType, created.Unix(), subID, customerID, status, created.Unix(), created.AddDate(0, 1, 0).Unix()))
}

func storedSubscription(status string, lastEvent time.Time) *model.Subscription {
	return &model.Subscription{
		SubscriptionID:     "sub_local_1",
		ExternalID:         "sub_ext_1",
		CustomerID:         "cust_1",
		Status:             status,
		Currency:           "usd",
		BillingInterval:    "month",
		LastEventTimestamp: lastEvent,
	}
}

func TestSubscriptionCreated_NewSubscription(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s1", EventSubscriptionCreated, "sub_ext_1", "cus_1", "trialing", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", nil))
	// First sight of the customer too: created implicitly.
	ds.On("CreateCustomerIfAbsent", mock.Anything, mock.AnythingOfType("*model.Customer")).
		Return(&model.Customer{CustomerID: "cust_1", ExternalID: "cus_1"}, nil)
	ds.On("CreateSubscription", mock.Anything, mock.MatchedBy(func(sub *model.Subscription) bool {
		return sub.ExternalID == "sub_ext_1" && sub.Status == model.SubscriptionStatusTrialing && sub.CustomerID == "cust_1"
	}), EventSubscriptionCreated).Return(storedSubscription(model.SubscriptionStatusTrialing, time.Now()), nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_s1", Type: EventSubscriptionCreated, RawPayload: payload}
	err := r.handleSubscriptionCreated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestSubscriptionUpdated_SameStatusRefreshesWithoutTransition(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s2", EventSubscriptionUpdated, "sub_ext_1", "cus_1", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusActive, time.Now().Add(-time.Hour)), nil)
	ds.On("RefreshSubscription", mock.Anything, mock.AnythingOfType("*model.Subscription")).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_s2", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}

func TestSubscriptionUpdated_StatusChangeAppendsTransition(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s3", EventSubscriptionUpdated, "sub_ext_1", "cus_1", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusTrialing, time.Now().Add(-time.Hour)), nil)
	ds.On("UpdateSubscriptionStatus", mock.Anything, mock.AnythingOfType("*model.Subscription"),
		model.SubscriptionStatusActive, EventSubscriptionUpdated, (*time.Time)(nil)).Return(nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.MatchedBy(func(entry *model.BillingHistoryEntry) bool {
		return entry.Kind == "subscription_status_changed"
	})).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_s3", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestSubscriptionDeleted_ForcesCanceledWithEndedAt(t *testing.T) {
	r, ds := newTestRecurra(t)
	// The payload still claims active; deletion wins.
	payload := subscriptionEventPayload("evt_s4", EventSubscriptionDeleted, "sub_ext_1", "cus_1", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusActive, time.Now().Add(-time.Hour)), nil)
	ds.On("UpdateSubscriptionStatus", mock.Anything, mock.AnythingOfType("*model.Subscription"),
		model.SubscriptionStatusCanceled, EventSubscriptionDeleted, mock.MatchedBy(func(endedAt *time.Time) bool {
			return endedAt != nil
		})).Return(nil)
	ds.On("RecordBillingHistory", mock.Anything, mock.AnythingOfType("*model.BillingHistoryEntry")).Return(nil)

	evt := &model.InboundEvent{ExternalID: "evt_s4", Type: EventSubscriptionDeleted, RawPayload: payload}
	err := r.handleSubscriptionDeleted(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestSubscriptionUpdated_UnknownSubscriptionIsNoOp(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s8", EventSubscriptionUpdated, "sub_ghost", "cus_ghost", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ghost").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", nil))

	evt := &model.InboundEvent{ExternalID: "evt_s8", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.NoError(t, err)
	// Updates never materialize rows; only the created pathway does.
	ds.AssertNotCalled(t, "CreateCustomerIfAbsent", mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionDeleted_UnknownSubscriptionIsNoOp(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s9", EventSubscriptionDeleted, "sub_ghost", "cus_ghost", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ghost").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Subscription not found", nil))

	evt := &model.InboundEvent{ExternalID: "evt_s9", Type: EventSubscriptionDeleted, RawPayload: payload}
	err := r.handleSubscriptionDeleted(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "CreateCustomerIfAbsent", mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "CreateSubscription", mock.Anything, mock.Anything, mock.Anything)
}

func TestSubscriptionUpdated_StaleEventIgnored(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s5", EventSubscriptionUpdated, "sub_ext_1", "cus_1", "paused", time.Now().Add(-2*time.Hour))

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusActive, time.Now()), nil)

	evt := &model.InboundEvent{ExternalID: "evt_s5", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "RefreshSubscription", mock.Anything, mock.Anything)
}

func TestSubscriptionUpdated_CanceledIsTerminal(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s6", EventSubscriptionUpdated, "sub_ext_1", "cus_1", "active", time.Now())

	ds.On("GetSubscriptionByExternalID", mock.Anything, "sub_ext_1").
		Return(storedSubscription(model.SubscriptionStatusCanceled, time.Now().Add(-time.Hour)), nil)

	evt := &model.InboundEvent{ExternalID: "evt_s6", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "UpdateSubscriptionStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	ds.AssertNotCalled(t, "RefreshSubscription", mock.Anything, mock.Anything)
}

func TestSubscriptionEvent_UnknownStatusRejected(t *testing.T) {
	r, ds := newTestRecurra(t)
	payload := subscriptionEventPayload("evt_s7", EventSubscriptionUpdated, "sub_ext_1", "cus_1", "hibernating", time.Now())

	evt := &model.InboundEvent{ExternalID: "evt_s7", Type: EventSubscriptionUpdated, RawPayload: payload}
	err := r.handleSubscriptionUpdated(context.Background(), evt)
	assert.Error(t, err)
	ds.AssertNotCalled(t, "GetSubscriptionByExternalID", mock.Anything, mock.Anything)
}
