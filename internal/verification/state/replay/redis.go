package replay

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"

	"kycgate/pkg/platform/sentinel"
)

var consumeDurationMs = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "kyc_state_replay_check_duration_ms",
	Help:    "Latency of Redis state replay checks in milliseconds",
	Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
})

// Redis key prefix for consumed states
const consumedStateKeyPrefix = "kyc:state:"

// RedisGuard shares consumed states across gateway instances.
type RedisGuard struct {
	client redis.Cmdable
	prefix string
}

// RedisOption configures a RedisGuard.
type RedisOption func(*RedisGuard)

// WithKeyPrefix replaces the default key prefix.
func WithKeyPrefix(prefix string) RedisOption {
	return func(g *RedisGuard) {
		g.prefix = prefix
	}
}

// NewRedisGuard constructs a Redis-backed guard. The client lifecycle is owned
// by the caller.
func NewRedisGuard(client redis.Cmdable, opts ...RedisOption) *RedisGuard {
	g := &RedisGuard{client: client, prefix: consumedStateKeyPrefix}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Consume atomically records state with SET NX and a TTL.
func (g *RedisGuard) Consume(ctx context.Context, state string, ttl time.Duration) error {
	start := time.Now()
	defer func() {
		consumeDurationMs.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
	}()

	if ttl <= 0 {
		return fmt.Errorf("replay ttl must be positive, got %s", ttl)
	}
	created, err := g.client.SetNX(ctx, g.prefix+state, "1", ttl).Result()
	if err != nil {
		return fmt.Errorf("record consumed state: %w: %w", sentinel.ErrUnavailable, err)
	}
	if !created {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}
