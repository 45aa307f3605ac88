package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// AccessEventStore keeps the audit log in memory, indexed by property.
// Records are refused under the same rule the sqlite schema enforces.
type AccessEventStore struct {
	mu         sync.RWMutex
	events     []store.AccessEventRecord
	byProperty map[string][]int
}

func NewAccessEventStore() *AccessEventStore {
	return &AccessEventStore{byProperty: make(map[string][]int)}
}

func (s *AccessEventStore) RecordEvent(_ context.Context, rec store.AccessEventRecord) (int64, error) {
	if rec.GateOpened && !rec.Granted {
		return 0, store.ErrGateWithoutGrant
	}
	rec.IDNumberHash = append([]byte(nil), rec.IDNumberHash...)
	rec.Snapshot = append([]byte(nil), rec.Snapshot...)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, rec)
	idx := len(s.events) - 1
	s.byProperty[rec.PropertyID] = append(s.byProperty[rec.PropertyID], idx)
	return int64(idx + 1), nil
}

// Events returns every record in insertion order.
func (s *AccessEventStore) Events() []store.AccessEventRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]store.AccessEventRecord(nil), s.events...)
}

func (s *AccessEventStore) ListRecent(_ context.Context, propertyID string, limit int) ([]store.AccessEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx := s.byProperty[propertyID]
	n := min(limit, len(idx))
	out := make([]store.AccessEventRecord, 0, n)
	for i := len(idx) - 1; i >= len(idx)-n; i-- {
		out = append(out, s.events[idx[i]])
	}
	return out, nil
}
