package memory

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

type doorKey struct{ property, door string }

// DoorStore knows a fixed set of doors, configured as "property/door".
// Arrivals at other doors are remembered but never become known.
type DoorStore struct {
	mu    sync.RWMutex
	doors map[doorKey]*store.DoorRecord
}

func NewDoorStore(knownDoors []string) *DoorStore {
	s := &DoorStore{doors: make(map[doorKey]*store.DoorRecord, len(knownDoors))}
	for _, d := range knownDoors {
		property, door, ok := strings.Cut(strings.TrimSpace(d), "/")
		if !ok || property == "" || door == "" {
			continue
		}
		s.doors[doorKey{property, door}] = &store.DoorRecord{PropertyID: property, DoorID: door, Known: true}
	}
	return s
}

func (s *DoorStore) IsKnown(_ context.Context, propertyID, doorID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doors[doorKey{propertyID, doorID}]
	return ok && d.Known, nil
}

func (s *DoorStore) MarkSeen(_ context.Context, propertyID, doorID string, _ bool, t time.Time) error {
	if t.IsZero() {
		t = time.Now()
	}
	k := doorKey{propertyID, doorID}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.doors[k]
	if !ok {
		d = &store.DoorRecord{PropertyID: propertyID, DoorID: doorID}
		s.doors[k] = d
	}
	d.LastSeen = t.UTC()
	return nil
}

func (s *DoorStore) ListDoors(_ context.Context, propertyID string) ([]store.DoorRecord, error) {
	s.mu.RLock()
	out := make([]store.DoorRecord, 0)
	for k, d := range s.doors {
		if k.property == propertyID {
			out = append(out, *d)
		}
	}
	s.mu.RUnlock()
	slices.SortFunc(out, func(a, b store.DoorRecord) int { return strings.Compare(a.DoorID, b.DoorID) })
	return out, nil
}

// LastSeen reports when a door last took an arrival.
func (s *DoorStore) LastSeen(propertyID, doorID string) (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.doors[doorKey{propertyID, doorID}]
	if !ok || d.LastSeen.IsZero() {
		return time.Time{}, false
	}
	return d.LastSeen, true
}
