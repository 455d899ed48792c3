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

	"github.com/recurrahq/recurra/internal/notification"
	"github.com/recurrahq/recurra/model"
)

// The audit writer is best-effort by contract: a failed audit write is
// reported and forgotten, and never fails or rolls back the pipeline work
// it describes.

func (r *Recurra) auditTransaction(ctx context.Context, txn *model.Transaction) {
	if err := r.datasource.RecordBillingTransaction(ctx, txn); err != nil {
		notification.NotifyError(err)
	}
}

func (r *Recurra) auditHistory(ctx context.Context, entry *model.BillingHistoryEntry) {
	if err := r.datasource.RecordBillingHistory(ctx, entry); err != nil {
		notification.NotifyError(err)
	}
}

func (r *Recurra) logEvent(ctx context.Context, severity, message, eventExternalID string) {
	if err := r.datasource.RecordEventLog(ctx, &model.EventLog{
		Severity:        severity,
		Message:         message,
		EventExternalID: eventExternalID,
	}); err != nil {
		notification.NotifyError(err)
	}
}
