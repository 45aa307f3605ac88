package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/memory"
)

func TestAccessEventStore_ListRecentNewestFirstPerProperty(t *testing.T) {
	es := memory.NewAccessEventStore()
	ctx := context.Background()
	for _, rec := range []store.AccessEventRecord{
		{SessionID: "a", PropertyID: "prop-1"},
		{SessionID: "b", PropertyID: "prop-2"},
		{SessionID: "c", PropertyID: "prop-1"},
		{SessionID: "d", PropertyID: "prop-1"},
	} {
		if _, err := es.RecordEvent(ctx, rec); err != nil {
			t.Fatalf("RecordEvent(%s): %v", rec.SessionID, err)
		}
	}

	got, _ := es.ListRecent(ctx, "prop-1", 2)
	if len(got) != 2 || got[0].SessionID != "d" || got[1].SessionID != "c" {
		t.Errorf("expected [d c], got %+v", got)
	}
	if got, _ := es.ListRecent(ctx, "prop-9", 10); len(got) != 0 {
		t.Errorf("expected no events for an unknown property, got %d", len(got))
	}
}

func TestAccessEventStore_RejectsGateWithoutGrant(t *testing.T) {
	es := memory.NewAccessEventStore()
	_, err := es.RecordEvent(context.Background(), store.AccessEventRecord{
		SessionID:  "s-1",
		PropertyID: "prop-1",
		GateOpened: true,
	})
	if !errors.Is(err, store.ErrGateWithoutGrant) {
		t.Fatalf("expected ErrGateWithoutGrant, got %v", err)
	}
	if len(es.Events()) != 0 {
		t.Error("expected rejected record to be dropped")
	}
}
