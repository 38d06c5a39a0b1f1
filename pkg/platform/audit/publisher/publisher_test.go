package publisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "kycgate/pkg/platform/audit"
	"kycgate/pkg/platform/audit/store/memory"
)

func TestPublisher_SyncMode(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	defer pub.Close()

	err := pub.Emit(context.Background(), audit.Event{
		TenantID: "tenant-1",
		Action:   string(audit.EventInitiated),
	})
	require.NoError(t, err)

	events, err := store.ListByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, string(audit.EventInitiated), events[0].Action)
}

func TestPublisher_FillsDefaults(t *testing.T) {
	store := memory.NewInMemoryStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	pub := NewPublisher(store, WithClock(func() time.Time { return fixed }))

	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		TenantID: "tenant-1",
		Action:   string(audit.EventFailureReason),
	}))

	events, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, fixed, events[0].Timestamp)
	assert.Equal(t, audit.CategorySecurity, events[0].Category)
	assert.Equal(t, audit.SeverityInfo, events[0].Severity)
}

func TestPublisher_KeepsExplicitFields(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store)
	ts := time.Date(2025, 5, 5, 0, 0, 0, 0, time.UTC)

	require.NoError(t, pub.Emit(context.Background(), audit.Event{
		ID:        "evt-1",
		Action:    string(audit.EventFailureReason),
		Severity:  audit.SeverityWarning,
		Timestamp: ts,
	}))

	events, _ := store.ListAll(context.Background())
	require.Len(t, events, 1)
	assert.Equal(t, "evt-1", events[0].ID)
	assert.Equal(t, ts, events[0].Timestamp)
	assert.Equal(t, audit.SeverityWarning, events[0].Severity)
}

func TestPublisher_AsyncDrainsOnClose(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := NewPublisher(store, WithAsyncBuffer(100))

	for range 10 {
		require.NoError(t, pub.Emit(context.Background(), audit.Event{
			TenantID: "tenant-1",
			Action:   string(audit.EventTokenExchangeSuccess),
		}))
	}

	pub.Close()

	events, err := store.ListByTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Len(t, events, 10, "all events should be drained on close")
}

func TestPublisher_EmitAfterClose(t *testing.T) {
	pub := NewPublisher(memory.NewInMemoryStore(), WithAsyncBuffer(1))
	pub.Close()
	pub.Close()

	err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventInitiated)})
	assert.ErrorIs(t, err, ErrClosed)
}

type blockingStore struct {
	release chan struct{}
}

func (b *blockingStore) Append(ctx context.Context, _ audit.Event) error {
	<-b.release
	return nil
}

func TestPublisher_BufferFull_DropsEvent(t *testing.T) {
	store := &blockingStore{release: make(chan struct{})}
	pub := NewPublisher(store, WithAsyncBuffer(1))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped int
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pub.Emit(context.Background(), audit.Event{Action: string(audit.EventInitiated)})
			if errors.Is(err, ErrBufferFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	close(store.release)
	pub.Close()
	assert.Greater(t, dropped, 0)
}
