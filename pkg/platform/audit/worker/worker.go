package worker

import (
	"context"
	"log/slog"

	audit "kycgate/pkg/platform/audit"
)

// Worker consumes audit events from a channel and persists them. Append
// failures are logged and the worker keeps going; audit delivery must not stall
// the pipeline.
type Worker struct {
	store  audit.Store
	inbox  <-chan audit.Event
	logger *slog.Logger
}

func NewWorker(store audit.Store, inbox <-chan audit.Event, logger *slog.Logger) *Worker {
	return &Worker{store: store, inbox: inbox, logger: logger}
}

// Run persists events until the inbox is closed, then returns nil. Closing the
// inbox is the only way to stop the worker so queued events are never lost.
func (w *Worker) Run(ctx context.Context) error {
	for event := range w.inbox {
		if err := w.store.Append(ctx, event); err != nil && w.logger != nil {
			w.logger.ErrorContext(ctx, "audit event dropped",
				"action", event.Action,
				"tenant_id", event.TenantID,
				"error", err,
			)
		}
	}
	return nil
}
