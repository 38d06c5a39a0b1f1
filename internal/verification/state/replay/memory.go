// Package replay records consumed state values so a state cannot complete the
// callback twice within its lifetime.
package replay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kycgate/pkg/platform/sentinel"
)

// MemoryGuard is a process-local replay guard. Suitable for single-instance
// deployments and tests.
type MemoryGuard struct {
	mu    sync.Mutex
	seen  map[string]time.Time
	now   func() time.Time
	sweep int
}

// MemoryOption configures a MemoryGuard.
type MemoryOption func(*MemoryGuard)

// WithClock overrides the guard's time source.
func WithClock(now func() time.Time) MemoryOption {
	return func(g *MemoryGuard) {
		g.now = now
	}
}

// NewMemoryGuard constructs an empty in-memory guard.
func NewMemoryGuard(opts ...MemoryOption) *MemoryGuard {
	g := &MemoryGuard{seen: make(map[string]time.Time), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// sweepEvery bounds how many Consume calls pass between expiry sweeps.
const sweepEvery = 256

// Consume marks state as used for ttl. A state already consumed and not yet
// expired returns sentinel.ErrAlreadyUsed.
func (g *MemoryGuard) Consume(_ context.Context, state string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("replay ttl must be positive, got %s", ttl)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.sweep++
	if g.sweep >= sweepEvery {
		g.sweep = 0
		for k, exp := range g.seen {
			if !now.Before(exp) {
				delete(g.seen, k)
			}
		}
	}

	if exp, ok := g.seen[state]; ok && now.Before(exp) {
		return sentinel.ErrAlreadyUsed
	}
	g.seen[state] = now.Add(ttl)
	return nil
}

// Len returns the number of tracked states, expired or not.
func (g *MemoryGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}
