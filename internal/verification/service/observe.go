package service

import (
	"context"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"kycgate/internal/verification/models"
	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/requestcontext"
)

// Span attribute keys. Never attach tokens, codes, secrets or profile values.
const (
	attrTenantID = "kyc.tenant_id"
	attrTestMode = "kyc.test_mode"
	attrStage    = "kyc.stage"
	attrSimulate = "kyc.simulate_failure"
	attrHasToken = "kyc.token.present"
	attrFields   = "kyc.profile.field_count"
)

func (s *Service) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error, stage models.Stage) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(attrStage, string(stage)))
}

func (s *Service) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	if s.logger == nil {
		return
	}
	if requestID := requestcontext.RequestID(ctx); requestID != "" {
		args = append(args, "request_id", requestID)
	}
	s.logger.Log(ctx, level, msg, args...)
}

// emit publishes an audit event enriched with request metadata. Delivery
// failures are logged and never fail the pipeline.
func (s *Service) emit(ctx context.Context, action audit.AuditEvent, event audit.Event) {
	if s.auditPublisher == nil {
		return
	}
	event.Action = string(action)
	event.RequestID = requestcontext.RequestID(ctx)
	event.ClientIP = requestcontext.ClientIP(ctx)
	event.UserAgent = requestcontext.UserAgent(ctx)
	if err := s.auditPublisher.Emit(ctx, event); err != nil {
		s.log(ctx, slog.LevelWarn, "audit emit failed",
			"action", string(action),
			"tenant_id", event.TenantID,
			"error", err,
		)
	}
}

// fail is the single place a pipeline failure is logged, audited and counted.
func (s *Service) fail(ctx context.Context, span trace.Span, op string, phase models.Phase, tenantID string, err error) models.Result {
	res := models.Failed(err, phase.Stage())

	level, severity := slog.LevelError, audit.SeverityError
	if res.Status < http.StatusInternalServerError {
		level, severity = slog.LevelWarn, audit.SeverityWarning
	}
	s.log(ctx, level, "verification failed",
		"operation", op,
		"tenant_id", tenantID,
		"phase", string(phase),
		"stage", string(res.Stage),
		"status", res.Status,
		"reason", res.Message,
		"error", err.Error(),
	)
	s.emit(ctx, audit.EventFailureReason, audit.Event{
		Severity: severity,
		TenantID: tenantID,
		Stage:    string(res.Stage),
		Reason:   res.Message,
		Attributes: map[string]any{
			"operation": op,
			"phase":     string(phase),
			"status":    res.Status,
		},
	})
	s.metrics.ObservePipeline(op, string(res.Stage), false)
	if span != nil {
		recordSpanError(span, err, res.Stage)
	}
	return res
}

// succeed counts and returns a successful result.
func (s *Service) succeed(span trace.Span, op string, res models.Result) models.Result {
	s.metrics.ObservePipeline(op, string(res.Stage), true)
	if span != nil {
		span.SetAttributes(attribute.String(attrStage, string(res.Stage)))
		span.SetStatus(codes.Ok, "")
	}
	return res
}
