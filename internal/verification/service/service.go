package service

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"kycgate/internal/platform/config"
	"kycgate/internal/verification/metrics"
	"kycgate/internal/verification/models"
	"kycgate/internal/verification/provider"
	audit "kycgate/pkg/platform/audit"
)

// Provider performs the identity provider calls.
type Provider interface {
	ExchangeCode(ctx context.Context, code string, cfg config.Verification, opts provider.ExchangeOptions) (models.TokenPayload, error)
	FetchProfile(ctx context.Context, accessToken string, cfg config.Verification, opts provider.ProfileOptions) (models.Profile, error)
}

// Store persists completed verifications.
type Store interface {
	Save(ctx context.Context, record models.Record) error
}

// ReplayGuard marks a state as consumed. It returns sentinel.ErrAlreadyUsed
// when the state was consumed before and has not yet expired.
type ReplayGuard interface {
	Consume(ctx context.Context, state string, ttl time.Duration) error
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Operation names used for metrics and spans.
const (
	opInitiate = "initiate"
	opExchange = "exchange"
	opProfile  = "profile"
	opCallback = "callback"
)

// Service orchestrates the verification pipeline. It holds no per-request
// state; concurrent calls share only the injected collaborators.
type Service struct {
	cfg            config.Verification
	provider       Provider
	store          Store
	replay         ReplayGuard
	logger         *slog.Logger
	auditPublisher AuditPublisher
	metrics        *metrics.Metrics
	tracer         trace.Tracer
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithAuditPublisher(publisher AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithStore hands successful verifications to a persistence collaborator.
func WithStore(store Store) Option {
	return func(s *Service) {
		s.store = store
	}
}

// WithReplayGuard rejects a state that already completed the callback.
func WithReplayGuard(guard ReplayGuard) Option {
	return func(s *Service) {
		s.replay = guard
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// New constructs a Service. cfg is captured by value and never re-read from
// the environment.
func New(cfg config.Verification, p Provider, opts ...Option) (*Service, error) {
	if p == nil {
		return nil, errors.New("provider is required")
	}
	s := &Service{
		cfg:      cfg,
		provider: p,
		tracer:   otel.Tracer("kycgate/verification"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TestMode reports whether provider calls are replaced by canned responses.
func (s *Service) TestMode() bool {
	return s.cfg.TestMode
}

func configError(stage models.Stage, missing []string) *models.Error {
	return models.Internal(stage, "OAuth configuration incomplete: missing "+strings.Join(missing, ", "))
}
