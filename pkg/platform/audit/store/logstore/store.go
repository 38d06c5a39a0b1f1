// Package logstore writes audit events to a structured logger. It is the
// fallback sink when no broker or database is configured.
package logstore

import (
	"context"
	"log/slog"

	audit "kycgate/pkg/platform/audit"
)

type Store struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Store {
	return &Store{logger: logger}
}

// Append logs the event at a level matching its severity.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	args := []any{
		"log_type", "audit",
		"event_id", event.ID,
		"event", event.Action,
		"category", string(event.Category),
		"tenant_id", event.TenantID,
	}
	if event.Stage != "" {
		args = append(args, "stage", event.Stage)
	}
	if event.Reason != "" {
		args = append(args, "reason", event.Reason)
	}
	if event.RequestID != "" {
		args = append(args, "request_id", event.RequestID)
	}
	if event.ClientIP != "" {
		args = append(args, "client_ip", event.ClientIP)
	}
	if len(event.Attributes) > 0 {
		args = append(args, "attributes", event.Attributes)
	}

	s.logger.Log(ctx, level(event.Severity), event.Action, args...)
	return nil
}

func level(sev audit.Severity) slog.Level {
	switch sev {
	case audit.SeverityWarning:
		return slog.LevelWarn
	case audit.SeverityError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
