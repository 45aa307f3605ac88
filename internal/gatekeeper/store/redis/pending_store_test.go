package redis_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	redisstore "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/redis"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func newStore(t *testing.T) (*redisstore.PendingStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redisstore.NewPendingStore(rdb, "test:pending", func() time.Time { return base.Add(time.Hour) }), mr
}

func register(t *testing.T, ps *redisstore.PendingStore, sessionID, phone, unit, name string, at time.Time) string {
	t.Helper()
	id, err := ps.Register(context.Background(), store.PendingRegistration{
		SessionID:   sessionID,
		Phone:       phone,
		Unit:        unit,
		VisitorName: name,
		IDNumber:    "1-1234-5678",
		CreatedAt:   at,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", sessionID, err)
	}
	return id
}

// ── Register ─────────────────────────────────────────────────────────────────

func TestPendingStore_Register_RejectsDuplicateSession(t *testing.T) {
	ps, _ := newStore(t)
	register(t, ps, "sess-1", "88881234", "101", "A", base)

	_, err := ps.Register(context.Background(), store.PendingRegistration{SessionID: "sess-1", Phone: "88881234"})
	if !errors.Is(err, store.ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestPendingStore_Register_UsesPrefix(t *testing.T) {
	ps, mr := newStore(t)
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	if !mr.Exists("test:pending:entry:" + id) {
		t.Error("expected entry key under the configured prefix")
	}
	if got, _ := mr.Get("test:pending:session:sess-1"); got != id {
		t.Errorf("expected session claim to point at %s, got %q", id, got)
	}
}

func TestPendingStore_Register_KeepsIDNumber(t *testing.T) {
	ps, _ := newStore(t)
	register(t, ps, "sess-1", "88881234", "101", "A", base)

	all, err := ps.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 1 || all[0].IDNumber != "1-1234-5678" {
		t.Errorf("expected ID number to survive storage, got %+v", all)
	}
}

// ── Find ─────────────────────────────────────────────────────────────────────

func TestPendingStore_FindByPhone_MostRecentWins(t *testing.T) {
	ps, _ := newStore(t)
	register(t, ps, "sess-old", "88881234", "101", "A", base)
	newer := register(t, ps, "sess-new", "+506 8888 1234", "102", "B", base.Add(time.Minute))

	e, ok, err := ps.FindByPhone(context.Background(), "88881234")
	if err != nil {
		t.Fatalf("FindByPhone: %v", err)
	}
	if !ok || e.ID != newer {
		t.Errorf("expected %s, got ok=%v %+v", newer, ok, e)
	}
}

func TestPendingStore_FindByUnit_TieBrokenByRegistrationOrder(t *testing.T) {
	ps, _ := newStore(t)
	register(t, ps, "sess-1", "88881111", "101", "A", base)
	second := register(t, ps, "sess-2", "88882222", "101", "B", base)

	e, ok, _ := ps.FindByUnit(context.Background(), "10-1")
	if !ok || e.ID != second {
		t.Errorf("expected later registration to win a tie, got %+v", e)
	}
}

func TestPendingStore_ResolvedEntriesInvisible(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	ok, err := ps.UpdateStatus(ctx, id, store.StatusDenied, "no")
	if err != nil || !ok {
		t.Fatalf("UpdateStatus: ok=%v err=%v", ok, err)
	}
	if ok, _ := ps.UpdateStatus(ctx, id, store.StatusApproved, ""); ok {
		t.Error("expected second update to report false")
	}
	if _, found, _ := ps.FindByPhone(ctx, "88881234"); found {
		t.Error("expected resolved entry to be invisible")
	}

	all, _ := ps.List(ctx)
	if all[0].Status != store.StatusDenied || all[0].RespondedAt == nil {
		t.Errorf("unexpected stored entry: %+v", all[0])
	}
}

// ── Cleanup ──────────────────────────────────────────────────────────────────

func TestPendingStore_DeleteBySession_ReleasesClaim(t *testing.T) {
	ps, mr := newStore(t)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	if err := ps.DeleteBySession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteBySession: %v", err)
	}
	if mr.Exists("test:pending:entry:" + id) {
		t.Error("expected entry key removed")
	}
	register(t, ps, "sess-1", "88881234", "101", "A", base)
}

func TestPendingStore_ClearUnitDecisions(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	stale := register(t, ps, "sess-old", "88881111", "101", "A", base)
	_, _ = ps.UpdateStatus(ctx, stale, store.StatusApproved, "")
	live := register(t, ps, "sess-live", "88882222", "101", "B", base.Add(time.Second))

	n, err := ps.ClearUnitDecisions(ctx, "101")
	if err != nil {
		t.Fatalf("ClearUnitDecisions: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 cleared, got %d", n)
	}
	e, ok, _ := ps.FindByUnit(ctx, "101")
	if !ok || e.ID != live {
		t.Errorf("expected live entry to remain, got %+v", e)
	}
}

func TestPendingStore_Sweep(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	register(t, ps, "sess-old", "88881111", "101", "A", base)
	register(t, ps, "sess-new", "88882222", "102", "B", base.Add(40*time.Minute))

	swept, err := ps.Sweep(ctx, base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if len(swept) != 1 || swept[0].SessionID != "sess-old" {
		t.Fatalf("expected sess-old swept, got %+v", swept)
	}
	if swept[0].Status != store.StatusExpired {
		t.Errorf("expected unanswered entry to come back expired, got %s", swept[0].Status)
	}

	old, _ := ps.ListPendingOlderThan(ctx, base.Add(time.Hour))
	if len(old) != 1 || old[0].SessionID != "sess-new" {
		t.Errorf("expected only sess-new left, got %+v", old)
	}
}

func TestPendingStore_Reopen(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	if ok, _ := ps.UpdateStatus(ctx, id, store.StatusApproved, "come in"); !ok {
		t.Fatal("expected update to succeed")
	}
	if _, found, _ := ps.FindByUnit(ctx, "101"); found {
		t.Fatal("expected answered entry to be hidden")
	}
	if ok, err := ps.Reopen(ctx, id); err != nil || !ok {
		t.Fatalf("Reopen: ok=%v err=%v", ok, err)
	}
	e, found, err := ps.FindByUnit(ctx, "101")
	if err != nil || !found || e.ID != id {
		t.Fatalf("expected reopened entry, got %+v found=%v err=%v", e, found, err)
	}
	if e.RespondedAt != nil || e.CustomMessage != "" {
		t.Errorf("expected response cleared, got %+v", e)
	}
	if ok, _ := ps.Reopen(ctx, id); ok {
		t.Error("expected second Reopen to report false")
	}
}

func TestPendingStore_MarkEscalated_Once(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	if ok, err := ps.MarkEscalated(ctx, id); err != nil || !ok {
		t.Fatalf("first MarkEscalated: ok=%v err=%v", ok, err)
	}
	if ok, _ := ps.MarkEscalated(ctx, id); ok {
		t.Error("expected second escalation to report false")
	}
}

// ── Concurrency ──────────────────────────────────────────────────────────────

func TestPendingStore_ConcurrentResolveSingleWinner(t *testing.T) {
	ps, _ := newStore(t)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := ps.UpdateStatus(ctx, id, store.StatusApproved, fmt.Sprintf("w%d", i))
			if err != nil {
				t.Errorf("UpdateStatus: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winning update, got %d", wins)
	}
}
