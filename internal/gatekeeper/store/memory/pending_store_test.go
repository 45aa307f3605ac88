package memory_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func register(t *testing.T, ps *memory.PendingStore, sessionID, phone, unit, name string, at time.Time) string {
	t.Helper()
	id, err := ps.Register(context.Background(), store.PendingRegistration{
		SessionID:   sessionID,
		Phone:       phone,
		Unit:        unit,
		VisitorName: name,
		CreatedAt:   at,
	})
	if err != nil {
		t.Fatalf("Register(%s): %v", sessionID, err)
	}
	return id
}

// ── Register ─────────────────────────────────────────────────────────────────

func TestPendingStore_Register_RejectsDuplicateSession(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	register(t, ps, "sess-1", "+506 8888-1234", "101", "Daisy Colorado", base)

	_, err := ps.Register(context.Background(), store.PendingRegistration{
		SessionID: "sess-1",
		Phone:     "88881234",
		Unit:      "101",
	})
	if !errors.Is(err, store.ErrDuplicateSession) {
		t.Fatalf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestPendingStore_Register_RequiresSession(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	_, err := ps.Register(context.Background(), store.PendingRegistration{Phone: "88881234"})
	if !errors.Is(err, store.ErrMissingSession) {
		t.Fatalf("expected ErrMissingSession, got %v", err)
	}
}

func TestPendingStore_Register_NormalizesKeys(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	register(t, ps, "sess-1", "+506 (8888) 1234", "#10-1", "Daisy", base)

	all, _ := ps.List(context.Background())
	if len(all) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(all))
	}
	if all[0].NormalizedPhone != "50688881234" {
		t.Errorf("expected normalized phone, got %q", all[0].NormalizedPhone)
	}
	if all[0].Unit != "101" {
		t.Errorf("expected normalized unit, got %q", all[0].Unit)
	}
	if all[0].Status != store.StatusPending {
		t.Errorf("expected pending, got %s", all[0].Status)
	}
}

// ── Find ─────────────────────────────────────────────────────────────────────

func TestPendingStore_FindByPhone_ToleratesPrefix(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	id := register(t, ps, "sess-1", "88881234", "101", "Daisy", base)

	e, ok, err := ps.FindByPhone(context.Background(), "whatsapp:+506 8888 1234")
	if err != nil {
		t.Fatalf("FindByPhone: %v", err)
	}
	if !ok || e.ID != id {
		t.Fatalf("expected entry %s, got ok=%v id=%s", id, ok, e.ID)
	}
}

func TestPendingStore_FindByPhone_MostRecentWins(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	register(t, ps, "sess-old", "88881234", "101", "A", base)
	newer := register(t, ps, "sess-new", "88881234", "101", "B", base.Add(time.Minute))

	e, ok, _ := ps.FindByPhone(context.Background(), "88881234")
	if !ok || e.ID != newer {
		t.Errorf("expected newest entry, got %+v", e)
	}
}

func TestPendingStore_FindByUnit_MostRecentWins(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	register(t, ps, "sess-1", "88881111", "101", "A", base)
	newer := register(t, ps, "sess-2", "88882222", "101", "B", base.Add(time.Second))
	register(t, ps, "sess-3", "88883333", "202", "C", base.Add(time.Hour))

	e, ok, _ := ps.FindByUnit(context.Background(), " 101 ")
	if !ok || e.ID != newer {
		t.Errorf("expected %s, got %+v", newer, e)
	}

	list, _ := ps.ListByUnit(context.Background(), "101")
	if len(list) != 2 || list[0].ID != newer {
		t.Errorf("expected two entries newest first, got %+v", list)
	}
}

func TestPendingStore_FindSkipsResolvedEntries(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	ok, _ := ps.UpdateStatus(context.Background(), id, store.StatusApproved, "")
	if !ok {
		t.Fatal("expected update to succeed")
	}
	if _, found, _ := ps.FindByPhone(context.Background(), "88881234"); found {
		t.Error("expected resolved entry to be invisible to FindByPhone")
	}
	if _, found, _ := ps.FindByUnit(context.Background(), "101"); found {
		t.Error("expected resolved entry to be invisible to FindByUnit")
	}
}

// ── UpdateStatus ─────────────────────────────────────────────────────────────

func TestPendingStore_UpdateStatus_OnlyOnce(t *testing.T) {
	ps := memory.NewPendingStore(func() time.Time { return base.Add(time.Minute) })
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)
	ctx := context.Background()

	ok, err := ps.UpdateStatus(ctx, id, store.StatusDenied, "not expecting anyone")
	if err != nil || !ok {
		t.Fatalf("first update: ok=%v err=%v", ok, err)
	}
	ok, _ = ps.UpdateStatus(ctx, id, store.StatusApproved, "")
	if ok {
		t.Error("expected second update to report false")
	}

	all, _ := ps.List(ctx)
	if all[0].Status != store.StatusDenied || all[0].CustomMessage != "not expecting anyone" {
		t.Errorf("unexpected entry: %+v", all[0])
	}
	if all[0].RespondedAt == nil || !all[0].RespondedAt.Equal(base.Add(time.Minute)) {
		t.Errorf("expected responded_at, got %v", all[0].RespondedAt)
	}
}

func TestPendingStore_UpdateStatus_UnknownEntry(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	ok, err := ps.UpdateStatus(context.Background(), "nope", store.StatusApproved, "")
	if err != nil || ok {
		t.Errorf("expected false/nil, got %v/%v", ok, err)
	}
}

// ── Cleanup ──────────────────────────────────────────────────────────────────

func TestPendingStore_ClearUnitDecisions_KeepsPending(t *testing.T) {
	ps := memory.NewPendingStore(nil)
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
	all, _ := ps.List(ctx)
	if len(all) != 1 || all[0].ID != live {
		t.Errorf("expected only the live entry to remain, got %+v", all)
	}

	// The stale session may register again.
	register(t, ps, "sess-old", "88881111", "101", "A", base.Add(time.Minute))
}

func TestPendingStore_DeleteBySession_AllowsReRegister(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	ctx := context.Background()
	register(t, ps, "sess-1", "88881234", "101", "A", base)

	if err := ps.DeleteBySession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteBySession: %v", err)
	}
	register(t, ps, "sess-1", "88881234", "101", "A", base)
}

func TestPendingStore_Sweep_RemovesOldEntries(t *testing.T) {
	ps := memory.NewPendingStore(nil)
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

	all, _ := ps.List(ctx)
	if len(all) != 1 || all[0].SessionID != "sess-new" {
		t.Errorf("expected sess-new to survive, got %+v", all)
	}
}

func TestPendingStore_Sweep_KeepsAnsweredStatus(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)
	if ok, _ := ps.UpdateStatus(ctx, id, store.StatusDenied, ""); !ok {
		t.Fatal("expected update to succeed")
	}

	swept, _ := ps.Sweep(ctx, base.Add(time.Hour))
	if len(swept) != 1 || swept[0].Status != store.StatusDenied {
		t.Errorf("expected denied entry swept as denied, got %+v", swept)
	}
}

func TestPendingStore_Reopen(t *testing.T) {
	ps := memory.NewPendingStore(func() time.Time { return base.Add(time.Minute) })
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	if ok, _ := ps.Reopen(ctx, id); ok {
		t.Error("expected Reopen of a pending entry to report false")
	}
	if ok, _ := ps.UpdateStatus(ctx, id, store.StatusApproved, "come in"); !ok {
		t.Fatal("expected update to succeed")
	}
	if ok, err := ps.Reopen(ctx, id); err != nil || !ok {
		t.Fatalf("Reopen: ok=%v err=%v", ok, err)
	}

	e, found, _ := ps.FindByPhone(ctx, "88881234")
	if !found || e.ID != id {
		t.Fatalf("expected reopened entry to be matchable, got %+v", e)
	}
	if e.Status != store.StatusPending || e.RespondedAt != nil || e.CustomMessage != "" {
		t.Errorf("expected response cleared, got %+v", e)
	}
	if ok, _ := ps.Reopen(ctx, "nope"); ok {
		t.Error("expected unknown entry to report false")
	}
}

func TestPendingStore_MarkEscalated_Once(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	ctx := context.Background()
	id := register(t, ps, "sess-1", "88881234", "101", "A", base)

	old, _ := ps.ListPendingOlderThan(ctx, base.Add(time.Minute))
	if len(old) != 1 {
		t.Fatalf("expected 1 entry older than cutoff, got %d", len(old))
	}
	if ok, _ := ps.MarkEscalated(ctx, id); !ok {
		t.Error("expected first escalation to succeed")
	}
	if ok, _ := ps.MarkEscalated(ctx, id); ok {
		t.Error("expected second escalation to report false")
	}
}

// ── Concurrency ──────────────────────────────────────────────────────────────

func TestPendingStore_SweepConcurrentWithWriters(t *testing.T) {
	ps := memory.NewPendingStore(nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				sid := fmt.Sprintf("sess-%d-%d", w, i)
				id, err := ps.Register(ctx, store.PendingRegistration{
					SessionID: sid,
					Phone:     fmt.Sprintf("8888%04d", i),
					Unit:      fmt.Sprintf("%d", w),
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				})
				if err != nil {
					t.Errorf("Register: %v", err)
					return
				}
				_, _, _ = ps.FindByUnit(ctx, fmt.Sprintf("%d", w))
				_, _ = ps.UpdateStatus(ctx, id, store.StatusApproved, "")
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			if _, err := ps.Sweep(ctx, base.Add(50*time.Second)); err != nil {
				t.Errorf("Sweep: %v", err)
			}
		}
	}()
	wg.Wait()

	if _, err := ps.Sweep(ctx, base.Add(time.Hour)); err != nil {
		t.Fatalf("final sweep: %v", err)
	}
	all, _ := ps.List(ctx)
	if len(all) != 0 {
		t.Errorf("expected empty store after final sweep, got %d", len(all))
	}
}
