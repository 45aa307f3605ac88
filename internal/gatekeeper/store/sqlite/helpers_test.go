package sqlite_test

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
)

// openTestDB returns a migrated in-memory database private to the test,
// closed when the test finishes.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	name := "test_" + strings.ReplaceAll(t.Name(), "/", "_")
	conn, err := db.OpenMemory(context.Background(), name)
	if err != nil {
		t.Fatalf("openTestDB: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestWriter(t *testing.T, conn *sql.DB) *db.Worker {
	t.Helper()
	w := db.NewWorker(conn)
	t.Cleanup(w.Close)
	return w
}

func seedDirectory(t *testing.T, conn *sql.DB, opt db.SeedDevOptions) {
	t.Helper()
	if err := db.SeedDev(context.Background(), conn, opt); err != nil {
		t.Fatalf("seed: %v", err)
	}
}

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)
