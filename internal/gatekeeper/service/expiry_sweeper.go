package service

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

// ExpirySweeper periodically ages out pending authorizations and the
// sessions waiting on them. It runs as a background goroutine and is
// stopped via its context or the Stop method.
type ExpirySweeper struct {
	pending   store.PendingStore
	registry  *SessionRegistry
	escalator Escalator
	cfg       SweeperConfig
	logger    *log.Logger
	now       func() time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

// SweeperConfig holds the parameters for NewExpirySweeper.
type SweeperConfig struct {
	// MaxAge is how long a pending authorization may wait. Defaults to 30m.
	MaxAge time.Duration

	// Interval is how often the sweeper runs. Defaults to 60s.
	Interval time.Duration

	// OperatorTimeout is how long a resident has before the visit is
	// handed to an operator. 0 disables escalation.
	OperatorTimeout time.Duration

	// SessionTimeout bounds any non-terminal session, suspended or not.
	// 0 disables the check.
	SessionTimeout time.Duration

	// Retention keeps finished sessions readable before eviction.
	Retention time.Duration

	// Now defaults to time.Now.
	Now func() time.Time
}

// SweepReport counts what one pass did.
type SweepReport struct {
	Escalated int
	Swept     int
	Expired   int
	TimedOut  int
	Evicted   int
}

// NewExpirySweeper creates a sweeper but does not start it. escalator may
// be nil.
func NewExpirySweeper(ps store.PendingStore, reg *SessionRegistry, esc Escalator, cfg SweeperConfig, logger *log.Logger) *ExpirySweeper {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Minute
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &ExpirySweeper{
		pending:   ps,
		registry:  reg,
		escalator: esc,
		cfg:       cfg,
		logger:    logger,
		now:       cfg.Now,
		done:      make(chan struct{}),
	}
}

// Start begins the background loop. It sweeps once immediately, then on
// every interval until ctx is cancelled or Stop is called.
func (w *ExpirySweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	go w.loop(ctx)

	w.logger.Printf("expiry sweeper started (max_age=%s, interval=%s, operator_timeout=%s)",
		w.cfg.MaxAge, w.cfg.Interval, w.cfg.OperatorTimeout)
}

// Stop signals the sweeper to exit and waits for it to finish.
func (w *ExpirySweeper) Stop() {
	if w.cancel != nil {
		w.cancel()
		<-w.done
	}
}

func (w *ExpirySweeper) loop(ctx context.Context) {
	defer close(w.done)

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single pass.
func (w *ExpirySweeper) RunOnce(ctx context.Context) SweepReport {
	now := w.now().UTC()
	var rep SweepReport

	if w.escalator != nil && w.cfg.OperatorTimeout > 0 {
		rep.Escalated = w.escalate(ctx, now.Add(-w.cfg.OperatorTimeout))
	}

	swept, err := w.pending.Sweep(ctx, now.Add(-w.cfg.MaxAge))
	if err != nil {
		w.logger.Printf("pending sweep error: %v", err)
	}
	rep.Swept = len(swept)
	for _, e := range swept {
		if e.Status != store.StatusExpired {
			continue
		}
		if w.expire(ctx, e.SessionID, visit.ReasonAuthorizationTimeout) {
			rep.Expired++
		}
	}

	if w.cfg.SessionTimeout > 0 {
		for _, id := range w.registry.Idle(now.Add(-w.cfg.SessionTimeout)) {
			if w.expire(ctx, id, visit.ReasonSessionTimeout) {
				rep.TimedOut++
			}
		}
	}

	rep.Evicted = w.registry.EvictTerminal(now.Add(-w.cfg.Retention))

	if rep != (SweepReport{}) {
		w.logger.Printf("sweep: escalated=%d swept=%d expired=%d timed_out=%d evicted=%d",
			rep.Escalated, rep.Swept, rep.Expired, rep.TimedOut, rep.Evicted)
	}
	return rep
}

func (w *ExpirySweeper) expire(ctx context.Context, sessionID, reason string) bool {
	applied, err := w.registry.Expire(ctx, sessionID, reason)
	if err != nil && !errors.Is(err, ErrSessionNotFound) {
		w.logger.Printf("expire session %s: %v", sessionID, err)
	}
	return applied
}

func (w *ExpirySweeper) escalate(ctx context.Context, cutoff time.Time) int {
	waiting, err := w.pending.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		w.logger.Printf("escalation scan error: %v", err)
		return 0
	}
	n := 0
	for _, e := range waiting {
		if e.Escalated {
			continue
		}
		marked, err := w.pending.MarkEscalated(ctx, e.ID)
		if err != nil || !marked {
			continue
		}
		_ = w.registry.Update(e.SessionID, func(s *visit.Session) error {
			s.MarkEscalated()
			return nil
		})
		if err := w.escalator.Escalate(ctx, Escalation{
			SessionID:    e.SessionID,
			EntryID:      e.ID,
			Unit:         e.Unit,
			VisitorName:  e.VisitorName,
			Plate:        e.Plate,
			WaitingSince: e.CreatedAt,
		}); err != nil {
			w.logger.Printf("escalate session %s: %v", e.SessionID, err)
			continue
		}
		n++
	}
	return n
}
