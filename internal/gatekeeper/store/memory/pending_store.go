package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// PendingStore is the in-process store.PendingStore.
//
// mu guards the index maps only. Each entry carries its own mutex, so
// status updates on different entries never contend. Lock order is always
// mu before an entry's mutex; nothing holding an entry mutex takes mu.
type PendingStore struct {
	mu        sync.RWMutex
	slots     map[string]*pendingSlot
	bySession map[string]string
	seq       uint64
	now       func() time.Time
}

type pendingSlot struct {
	mu      sync.Mutex
	entry   store.PendingEntry
	seq     uint64
	removed bool
}

type orderedEntry struct {
	entry store.PendingEntry
	seq   uint64
}

// NewPendingStore returns an empty store. now defaults to time.Now.
func NewPendingStore(now func() time.Time) *PendingStore {
	if now == nil {
		now = time.Now
	}
	return &PendingStore{
		slots:     make(map[string]*pendingSlot),
		bySession: make(map[string]string),
		now:       now,
	}
}

func (s *PendingStore) Register(_ context.Context, reg store.PendingRegistration) (string, error) {
	sessionID := strings.TrimSpace(reg.SessionID)
	if sessionID == "" {
		return "", store.ErrMissingSession
	}
	created := reg.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bySession[sessionID]; exists {
		return "", store.ErrDuplicateSession
	}

	s.seq++
	id := uuid.NewString()
	s.slots[id] = &pendingSlot{
		seq: s.seq,
		entry: store.PendingEntry{
			ID:              id,
			SessionID:       sessionID,
			NormalizedPhone: identity.NormalizePhone(reg.Phone),
			Unit:            identity.NormalizeUnit(reg.Unit),
			VisitorName:     strings.TrimSpace(reg.VisitorName),
			IDNumber:        strings.TrimSpace(reg.IDNumber),
			Plate:           identity.NormalizePlate(reg.Plate),
			Status:          store.StatusPending,
			CreatedAt:       created.UTC(),
		},
	}
	s.bySession[sessionID] = id
	return id, nil
}

// collect copies every live entry accepted by keep, newest first. Ties on
// CreatedAt fall back to registration order.
func (s *PendingStore) collect(keep func(store.PendingEntry) bool) []store.PendingEntry {
	s.mu.RLock()
	slots := make([]*pendingSlot, 0, len(s.slots))
	for _, sl := range s.slots {
		slots = append(slots, sl)
	}
	s.mu.RUnlock()

	matched := make([]orderedEntry, 0, len(slots))
	for _, sl := range slots {
		sl.mu.Lock()
		if !sl.removed && keep(sl.entry) {
			matched = append(matched, orderedEntry{entry: sl.entry, seq: sl.seq})
		}
		sl.mu.Unlock()
	}

	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		if !a.entry.CreatedAt.Equal(b.entry.CreatedAt) {
			return a.entry.CreatedAt.After(b.entry.CreatedAt)
		}
		return a.seq > b.seq
	})

	out := make([]store.PendingEntry, len(matched))
	for i, m := range matched {
		out[i] = m.entry
	}
	return out
}

func (s *PendingStore) FindByPhone(_ context.Context, raw string) (store.PendingEntry, bool, error) {
	if identity.NormalizePhone(raw) == "" {
		return store.PendingEntry{}, false, nil
	}
	found := s.collect(func(e store.PendingEntry) bool {
		return e.Status == store.StatusPending && identity.PhonesMatch(e.NormalizedPhone, raw)
	})
	if len(found) == 0 {
		return store.PendingEntry{}, false, nil
	}
	return found[0], true, nil
}

func (s *PendingStore) FindByUnit(ctx context.Context, raw string) (store.PendingEntry, bool, error) {
	found, err := s.ListByUnit(ctx, raw)
	if err != nil || len(found) == 0 {
		return store.PendingEntry{}, false, err
	}
	return found[0], true, nil
}

func (s *PendingStore) ListByUnit(_ context.Context, raw string) ([]store.PendingEntry, error) {
	unit := identity.NormalizeUnit(raw)
	if unit == "" {
		return nil, nil
	}
	return s.collect(func(e store.PendingEntry) bool {
		return e.Status == store.StatusPending && e.Unit == unit
	}), nil
}

func (s *PendingStore) slot(entryID string) *pendingSlot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[entryID]
}

func (s *PendingStore) UpdateStatus(_ context.Context, entryID string, status store.PendingStatus, message string) (bool, error) {
	sl := s.slot(entryID)
	if sl == nil {
		return false, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed || sl.entry.Status != store.StatusPending {
		return false, nil
	}
	t := s.now().UTC()
	sl.entry.Status = status
	sl.entry.RespondedAt = &t
	sl.entry.CustomMessage = message
	return true, nil
}

func (s *PendingStore) Reopen(_ context.Context, entryID string) (bool, error) {
	sl := s.slot(entryID)
	if sl == nil {
		return false, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed || sl.entry.Status == store.StatusPending {
		return false, nil
	}
	sl.entry.Status = store.StatusPending
	sl.entry.RespondedAt = nil
	sl.entry.CustomMessage = ""
	return true, nil
}

func (s *PendingStore) MarkEscalated(_ context.Context, entryID string) (bool, error) {
	sl := s.slot(entryID)
	if sl == nil {
		return false, nil
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.removed || sl.entry.Status != store.StatusPending || sl.entry.Escalated {
		return false, nil
	}
	sl.entry.Escalated = true
	return true, nil
}

func (s *PendingStore) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]store.PendingEntry, error) {
	return s.collect(func(e store.PendingEntry) bool {
		return e.Status == store.StatusPending && e.CreatedAt.Before(cutoff)
	}), nil
}

// removeLocked unlinks a slot and marks it removed. Caller holds s.mu.
func (s *PendingStore) removeLocked(id string, sl *pendingSlot) {
	delete(s.slots, id)
	if s.bySession[sl.entry.SessionID] == id {
		delete(s.bySession, sl.entry.SessionID)
	}
	sl.removed = true
}

func (s *PendingStore) Delete(_ context.Context, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl, ok := s.slots[entryID]
	if !ok {
		return nil
	}
	sl.mu.Lock()
	s.removeLocked(entryID, sl)
	sl.mu.Unlock()
	return nil
}

func (s *PendingStore) DeleteBySession(ctx context.Context, sessionID string) error {
	s.mu.RLock()
	id, ok := s.bySession[strings.TrimSpace(sessionID)]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	return s.Delete(ctx, id)
}

func (s *PendingStore) ClearUnitDecisions(_ context.Context, raw string) (int, error) {
	unit := identity.NormalizeUnit(raw)
	if unit == "" {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cleared := 0
	for id, sl := range s.slots {
		sl.mu.Lock()
		if sl.entry.Unit == unit && sl.entry.Status != store.StatusPending {
			s.removeLocked(id, sl)
			cleared++
		}
		sl.mu.Unlock()
	}
	return cleared, nil
}

func (s *PendingStore) Sweep(_ context.Context, cutoff time.Time) ([]store.PendingEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var swept []store.PendingEntry
	for id, sl := range s.slots {
		sl.mu.Lock()
		if sl.entry.CreatedAt.Before(cutoff) {
			e := sl.entry
			if e.Status == store.StatusPending {
				e.Status = store.StatusExpired
			}
			swept = append(swept, e)
			s.removeLocked(id, sl)
		}
		sl.mu.Unlock()
	}
	sort.Slice(swept, func(i, j int) bool { return swept[i].CreatedAt.Before(swept[j].CreatedAt) })
	return swept, nil
}

func (s *PendingStore) List(_ context.Context) ([]store.PendingEntry, error) {
	return s.collect(func(store.PendingEntry) bool { return true }), nil
}
