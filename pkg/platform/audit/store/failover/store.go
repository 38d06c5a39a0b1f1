// Package failover keeps audit events flowing when the primary sink (Kafka or
// Postgres) is down by diverting them to a fallback sink behind a circuit
// breaker.
package failover

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	audit "kycgate/pkg/platform/audit"
)

// Metrics tracks primary failures and diverted events.
type Metrics struct {
	PrimaryFailures prometheus.Counter
	Diverted        prometheus.Counter
	BreakerState    prometheus.Gauge
}

// NewMetrics registers the failover metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PrimaryFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_audit_primary_failures_total",
			Help: "Audit events the primary sink failed to accept",
		}),
		Diverted: factory.NewCounter(prometheus.CounterOpts{
			Name: "kyc_audit_diverted_total",
			Help: "Audit events written to the fallback sink",
		}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kyc_audit_primary_breaker_open",
			Help: "Primary audit sink circuit state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) failure() {
	if m != nil {
		m.PrimaryFailures.Inc()
	}
}

func (m *Metrics) diverted() {
	if m != nil {
		m.Diverted.Inc()
	}
}

func (m *Metrics) breakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
		return
	}
	m.BreakerState.Set(0)
}

// Store writes to primary and diverts to fallback on failure or while the
// circuit is open.
type Store struct {
	primary  audit.Store
	fallback audit.Store
	breaker  *circuitBreaker
	logger   *slog.Logger
	metrics  *Metrics

	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

type Option func(*Store)

// WithBreaker sets the consecutive failure threshold and open duration.
func WithBreaker(threshold int, cooldown time.Duration) Option {
	return func(s *Store) {
		s.threshold = threshold
		s.cooldown = cooldown
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the breaker clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func New(primary, fallback audit.Store, opts ...Option) *Store {
	s := &Store{primary: primary, fallback: fallback, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	s.breaker = newCircuitBreaker(s.threshold, s.cooldown, s.now)
	return s
}

// Append implements audit.Store. It fails only when both sinks fail.
func (s *Store) Append(ctx context.Context, event audit.Event) error {
	if s.breaker.allow() {
		err := s.primary.Append(ctx, event)
		if err == nil {
			s.breaker.recordSuccess()
			s.metrics.breakerState(false)
			return nil
		}
		s.metrics.failure()
		if s.breaker.recordFailure() {
			s.metrics.breakerState(true)
			if s.logger != nil {
				s.logger.WarnContext(ctx, "audit primary sink circuit opened", "error", err)
			}
		}
	}

	s.metrics.diverted()
	if err := s.fallback.Append(ctx, event); err != nil {
		return fmt.Errorf("audit fallback append: %w", err)
	}
	return nil
}

// Open reports whether the primary is currently bypassed.
func (s *Store) Open() bool {
	return s.breaker.isOpen()
}
