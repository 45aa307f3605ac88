package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/types"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

var (
	ErrNoCorrelation   = errors.New("callback matches no pending authorization")
	ErrInvalidDecision = errors.New("decision must be approved or denied")
	// ErrSessionNotLocal means the matched entry belongs to a session this
	// process does not track. The entry is left pending for its owner.
	ErrSessionNotLocal = errors.New("pending authorization owned by another process")
)

// How a callback was matched to its entry.
const (
	MatchedByPhone    = "phone"
	MatchedByUnit     = "unit"
	MatchedByUnitName = "unit_name"
)

// Resolution describes a correlated callback. Applied is false when the
// owning session had already finished, e.g. it timed out first.
type Resolution struct {
	EntryID   string
	SessionID string
	MatchedBy string
	Applied   bool
}

// Correlator ties pending authorizations to the callbacks that answer
// them.
type Correlator struct {
	pending       store.PendingStore
	registry      *SessionRegistry
	maxVariations int
	logger        *log.Logger
	now           func() time.Time
}

func newCorrelator(ps store.PendingStore, reg *SessionRegistry, maxVariations int, logger *log.Logger, now func() time.Time) *Correlator {
	return &Correlator{
		pending:       ps,
		registry:      reg,
		maxVariations: maxVariations,
		logger:        logger,
		now:           now,
	}
}

// Await registers s as waiting for a decision. Any entry the session
// still owns and any answered entries left for its unit are dropped first,
// so an earlier visitor's approval cannot be mistaken for this one's.
func (c *Correlator) Await(ctx context.Context, s *visit.Session) (string, error) {
	if err := c.pending.DeleteBySession(ctx, s.ID()); err != nil {
		return "", fmt.Errorf("await clear session: %w", err)
	}
	if n, err := c.pending.ClearUnitDecisions(ctx, s.Unit()); err != nil {
		return "", fmt.Errorf("await clear unit: %w", err)
	} else if n > 0 {
		c.logger.Printf("cleared %d stale decisions for unit %s", n, identity.NormalizeUnit(s.Unit()))
	}

	return c.pending.Register(ctx, store.PendingRegistration{
		SessionID:   s.ID(),
		Phone:       s.ResidentPhone(),
		Unit:        s.Unit(),
		VisitorName: s.VisitorName(),
		IDNumber:    s.IDNumber(),
		Plate:       s.Plate(),
		CreatedAt:   c.now().UTC(),
	})
}

// Release drops whatever entry the session still owns.
func (c *Correlator) Release(ctx context.Context, sessionID string) error {
	return c.pending.DeleteBySession(ctx, sessionID)
}

// match applies the fallback order: phone, then unit, with the spoken name
// choosing among several entries for one unit. Among equals the most
// recent entry wins.
func (c *Correlator) match(ctx context.Context, cb types.AuthorizationCallback) (store.PendingEntry, string, bool, error) {
	if identity.NormalizePhone(cb.Phone) != "" {
		e, ok, err := c.pending.FindByPhone(ctx, cb.Phone)
		if err != nil || ok {
			return e, MatchedByPhone, ok, err
		}
	}

	if identity.NormalizeUnit(cb.Unit) == "" {
		return store.PendingEntry{}, "", false, nil
	}
	if identity.NormalizeName(cb.SpokenName) == "" {
		e, ok, err := c.pending.FindByUnit(ctx, cb.Unit)
		return e, MatchedByUnit, ok, err
	}

	candidates, err := c.pending.ListByUnit(ctx, cb.Unit)
	if err != nil || len(candidates) == 0 {
		return store.PendingEntry{}, "", false, err
	}
	if len(candidates) > 1 {
		for _, e := range candidates {
			if identity.NamesMatch(cb.SpokenName, e.VisitorName, c.maxVariations) {
				return e, MatchedByUnitName, true, nil
			}
		}
	}
	return candidates[0], MatchedByUnit, true, nil
}

// Resolve correlates a callback and resumes the session it answers.
// Callbacks that match nothing are logged and dropped with
// ErrNoCorrelation; they never touch a session. A match owned by a session
// another process tracks returns ErrSessionNotLocal with the entry still
// pending, so the callback can be retried against the owner.
func (c *Correlator) Resolve(ctx context.Context, cb types.AuthorizationCallback) (Resolution, error) {
	if !cb.Decision.Valid() {
		return Resolution{}, ErrInvalidDecision
	}

	e, by, ok, err := c.match(ctx, cb)
	if err != nil {
		return Resolution{}, fmt.Errorf("correlate: %w", err)
	}
	if !ok {
		c.logger.Printf("callback dropped: no pending authorization (phone=%s unit=%q)",
			maskPhone(cb.Phone), cb.Unit)
		return Resolution{}, ErrNoCorrelation
	}

	res := Resolution{EntryID: e.ID, SessionID: e.SessionID, MatchedBy: by}
	if _, err := c.registry.Get(e.SessionID); errors.Is(err, ErrSessionNotFound) {
		c.logger.Printf("callback for entry %s: session %s not tracked here", e.ID, e.SessionID)
		return res, ErrSessionNotLocal
	}

	status := store.StatusDenied
	d := Decision{Reason: visit.ReasonResidentDenied, Message: cb.CustomMessage}
	if cb.Decision == types.DecisionApproved {
		status = store.StatusApproved
		d = Decision{Granted: true, Kind: visit.KindResidentApproved, Message: cb.CustomMessage}
	}

	updated, err := c.pending.UpdateStatus(ctx, e.ID, status, cb.CustomMessage)
	if err != nil {
		return Resolution{}, fmt.Errorf("correlate update: %w", err)
	}
	if !updated {
		c.logger.Printf("callback dropped: entry %s already answered", e.ID)
		return Resolution{}, ErrNoCorrelation
	}

	// The entry is answered from here on; store cleanup must outlive the
	// caller's request.
	bg := context.WithoutCancel(ctx)
	res.Applied, err = c.registry.Resume(ctx, e.SessionID, d)
	switch {
	case errors.Is(err, ErrSessionNotFound):
		// Evicted between the lookup and Resume.
		if _, rerr := c.pending.Reopen(bg, e.ID); rerr != nil {
			c.logger.Printf("pending reopen %s: %v", e.ID, rerr)
		}
		c.logger.Printf("callback for entry %s: session %s not tracked here", e.ID, e.SessionID)
		return res, ErrSessionNotLocal
	case err != nil:
		err = fmt.Errorf("resume session %s: %w", e.SessionID, err)
	case !res.Applied:
		c.logger.Printf("callback for session %s arrived after it finished", e.SessionID)
	}

	if derr := c.pending.Delete(bg, e.ID); derr != nil {
		c.logger.Printf("pending delete %s: %v", e.ID, derr)
	}
	return res, err
}

// maskPhone keeps the last four digits for logs.
func maskPhone(raw string) string {
	d := identity.NormalizePhone(raw)
	if len(d) <= 4 {
		return d
	}
	return fmt.Sprintf("***%s", d[len(d)-4:])
}
