package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

var (
	ErrSessionNotFound = errors.New("visit session not found")
	ErrSessionExists   = errors.New("visit session already registered")
)

// Decision resumes a suspended session.
type Decision struct {
	Granted bool
	Kind    visit.AuthorizationKind
	Reason  string
	Message string
}

// sessionDriver carries a locked session to its next step. The registry
// calls it with the session's mutex held.
type sessionDriver interface {
	resume(ctx context.Context, s *visit.Session, d Decision) error
	expire(ctx context.Context, s *visit.Session, reason string) error
}

type sessionSlot struct {
	mu sync.Mutex
	s  *visit.Session
}

// SessionRegistry owns every live visit session.
//
// mu guards the map; each session has its own mutex so transitions on
// one visit never wait on another. Lock order is mu before a slot mutex.
// Track is the one exception: its slot is not reachable until inserted.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*sessionSlot
	driver   sessionDriver
}

func newSessionRegistry(driver sessionDriver) *SessionRegistry {
	return &SessionRegistry{
		sessions: make(map[string]*sessionSlot),
		driver:   driver,
	}
}

// Track adds s and returns with its lock held. The caller drives the
// session forward and then calls release; Resume and Expire block until
// then.
func (r *SessionRegistry) Track(s *visit.Session) (release func(), err error) {
	sl := &sessionSlot{s: s}
	sl.mu.Lock()

	r.mu.Lock()
	if _, exists := r.sessions[s.ID()]; exists {
		r.mu.Unlock()
		sl.mu.Unlock()
		return nil, ErrSessionExists
	}
	r.sessions[s.ID()] = sl
	r.mu.Unlock()

	return sl.mu.Unlock, nil
}

func (r *SessionRegistry) slot(id string) (*sessionSlot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sl, ok := r.sessions[id]
	return sl, ok
}

// Get returns a snapshot of the session.
func (r *SessionRegistry) Get(id string) (visit.Snapshot, error) {
	sl, ok := r.slot(id)
	if !ok {
		return visit.Snapshot{}, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.s.Snapshot(), nil
}

// Update runs fn on the locked session.
func (r *SessionRegistry) Update(id string, fn func(*visit.Session) error) error {
	sl, ok := r.slot(id)
	if !ok {
		return ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return fn(sl.s)
}

// Resume delivers a decision to a suspended session. It reports false
// when the session has already left awaiting_authorization, which is how
// the loser of a Resume/Expire race finds out.
func (r *SessionRegistry) Resume(ctx context.Context, id string, d Decision) (bool, error) {
	sl, ok := r.slot(id)
	if !ok {
		return false, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.s.Step() != visit.StepAwaitingAuthorization {
		return false, nil
	}
	return true, r.driver.resume(ctx, sl.s, d)
}

// Expire times out a non-terminal session. A terminal session is left
// alone and reported as false.
func (r *SessionRegistry) Expire(ctx context.Context, id, reason string) (bool, error) {
	sl, ok := r.slot(id)
	if !ok {
		return false, ErrSessionNotFound
	}
	sl.mu.Lock()
	defer sl.mu.Unlock()
	if sl.s.Terminal() {
		return false, nil
	}
	return true, r.driver.expire(ctx, sl.s, reason)
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *SessionRegistry) slots() []*sessionSlot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*sessionSlot, 0, len(r.sessions))
	for _, sl := range r.sessions {
		out = append(out, sl)
	}
	return out
}

// List snapshots every session, oldest first.
func (r *SessionRegistry) List() []visit.Snapshot {
	var out []visit.Snapshot
	for _, sl := range r.slots() {
		sl.mu.Lock()
		out = append(out, sl.s.Snapshot())
		sl.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// Idle returns the ids of non-terminal sessions with no activity since
// cutoff.
func (r *SessionRegistry) Idle(cutoff time.Time) []string {
	var ids []string
	for _, sl := range r.slots() {
		sl.mu.Lock()
		if !sl.s.Terminal() && sl.s.LastActivityAt().Before(cutoff) {
			ids = append(ids, sl.s.ID())
		}
		sl.mu.Unlock()
	}
	return ids
}

// EvictTerminal removes sessions that finished before cutoff and returns
// how many were removed.
func (r *SessionRegistry) EvictTerminal(cutoff time.Time) int {
	var ids []string
	for _, sl := range r.slots() {
		sl.mu.Lock()
		if sl.s.Terminal() && sl.s.CompletedAt().Before(cutoff) {
			ids = append(ids, sl.s.ID())
		}
		sl.mu.Unlock()
	}
	if len(ids) == 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.sessions, id)
	}
	return len(ids)
}

func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
