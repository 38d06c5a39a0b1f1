package store

import (
	"context"
	"maps"
	"slices"
	"sync"

	"kycgate/internal/verification/models"
)

// InMemoryStore keeps verification records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]models.Record
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]models.Record)}
}

func (s *InMemoryStore) Save(_ context.Context, record models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.Profile = maps.Clone(record.Profile)
	record.ProfileFields = slices.Clone(record.ProfileFields)
	s.records[record.ID] = record
	return nil
}

// ListByTenant returns the tenant's records, oldest first.
func (s *InMemoryStore) ListByTenant(_ context.Context, tenantID string) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Record
	for _, r := range s.records {
		if r.TenantID == tenantID {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b models.Record) int {
		return a.VerifiedAt.Compare(b.VerifiedAt)
	})
	return out, nil
}
