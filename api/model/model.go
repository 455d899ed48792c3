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
package model

import (
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ListEventsQuery is the query surface of GET /events.
type ListEventsQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

func (q *ListEventsQuery) ValidateListEventsQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Status, validation.In("", "pending", "processed", "failed")),
		validation.Field(&q.Limit, validation.Min(0), validation.Max(500)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}

// ListDunningQuery is the query surface of GET /dunning-attempts.
type ListDunningQuery struct {
	Limit  int `form:"limit"`
	Offset int `form:"offset"`
}

func (q *ListDunningQuery) ValidateListDunningQuery() error {
	return validation.ValidateStruct(q,
		validation.Field(&q.Limit, validation.Min(0), validation.Max(500)),
		validation.Field(&q.Offset, validation.Min(0)),
	)
}
