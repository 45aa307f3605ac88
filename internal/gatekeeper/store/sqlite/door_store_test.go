package sqlite_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	sqlitestore "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store/sqlite"
)

func TestDoorStore_IsKnown_RequiresCommissioning(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDoorStore(conn, w)
	ctx := context.Background()

	if known, _ := ds.IsKnown(ctx, "prop-1", "gate-main"); known {
		t.Error("expected unseeded door to be unknown")
	}

	seedDirectory(t, conn, db.SeedDevOptions{
		Doors: []db.DoorSeed{{PropertyID: "prop-1", DoorID: "gate-main", DisplayName: "Main gate"}},
	})
	known, err := ds.IsKnown(ctx, "prop-1", "gate-main")
	if err != nil {
		t.Fatalf("IsKnown: %v", err)
	}
	if !known {
		t.Error("expected seeded door to be known")
	}
}

func TestDoorStore_MarkSeen_CreatesDisabledRow(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDoorStore(conn, w)
	ctx := context.Background()

	if err := ds.MarkSeen(ctx, "prop-1", "side-door", false, base); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	var enabled int
	var lastSeen sql.NullInt64
	err := conn.QueryRowContext(ctx, `
SELECT enabled, last_seen_at_ms FROM doors WHERE property_id = ? AND door_id = ?`,
		"prop-1", "side-door").Scan(&enabled, &lastSeen)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if enabled != 0 {
		t.Error("expected auto-created door to start disabled")
	}
	if !lastSeen.Valid || lastSeen.Int64 != base.UnixMilli() {
		t.Errorf("expected last_seen_at_ms=%d, got %v", base.UnixMilli(), lastSeen)
	}
	if known, _ := ds.IsKnown(ctx, "prop-1", "side-door"); known {
		t.Error("expected auto-created door to stay unknown")
	}
}

func TestDoorStore_ListDoors_ReportsCommissioning(t *testing.T) {
	conn := openTestDB(t)
	w := newTestWriter(t, conn)
	ds := sqlitestore.NewDoorStore(conn, w)
	ctx := context.Background()

	seedDirectory(t, conn, db.SeedDevOptions{
		Doors: []db.DoorSeed{{PropertyID: "prop-1", DoorID: "gate-main", DisplayName: "Main gate"}},
	})
	if err := ds.MarkSeen(ctx, "prop-1", "gate-main", true, base); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}
	if err := ds.MarkSeen(ctx, "prop-1", "back-door", false, base.Add(time.Minute)); err != nil {
		t.Fatalf("MarkSeen: %v", err)
	}

	doors, err := ds.ListDoors(ctx, "prop-1")
	if err != nil {
		t.Fatalf("ListDoors: %v", err)
	}
	if len(doors) != 2 {
		t.Fatalf("expected 2 doors, got %+v", doors)
	}
	back, gate := doors[0], doors[1]
	if back.DoorID != "back-door" || back.Known || !back.LastSeen.Equal(base.Add(time.Minute)) {
		t.Errorf("unexpected back door: %+v", back)
	}
	if gate.DoorID != "gate-main" || !gate.Known || gate.DisplayName != "Main gate" {
		t.Errorf("unexpected main gate: %+v", gate)
	}
	if known, _ := ds.IsKnown(ctx, "prop-1", "gate-main"); !known {
		t.Error("expected a sighting to keep a commissioned door known")
	}
}
