package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

type DoorStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewDoorStore(db *sql.DB, writer *dbpkg.Worker) *DoorStore {
	return &DoorStore{db: db, writer: writer}
}

// A door is known once it is enabled, commissioned and not revoked.
const doorColumns = `
SELECT property_id, door_id, COALESCE(display_name, ''),
       enabled = 1 AND commissioned_at_ms IS NOT NULL AND revoked_at_ms IS NULL,
       last_seen_at_ms
FROM doors`

func scanDoor(row rowScanner) (store.DoorRecord, error) {
	var (
		d        store.DoorRecord
		known    int
		lastSeen sql.NullInt64
	)
	if err := row.Scan(&d.PropertyID, &d.DoorID, &d.DisplayName, &known, &lastSeen); err != nil {
		return store.DoorRecord{}, err
	}
	d.Known = known == 1
	if lastSeen.Valid {
		d.LastSeen = time.UnixMilli(lastSeen.Int64).UTC()
	}
	return d, nil
}

func (s *DoorStore) IsKnown(ctx context.Context, propertyID, doorID string) (bool, error) {
	propertyID = strings.TrimSpace(propertyID)
	doorID = strings.TrimSpace(doorID)
	if propertyID == "" || doorID == "" {
		return false, nil
	}
	d, err := scanDoor(s.db.QueryRowContext(ctx, doorColumns+`
WHERE property_id = ? AND door_id = ?;`, propertyID, doorID))
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("IsKnown %s/%s: %w", propertyID, doorID, err)
	}
	return d.Known, nil
}

// MarkSeen stamps last_seen on the door. A door the property never
// registered gets a disabled, uncommissioned row so operators can find it
// and commission it.
func (s *DoorStore) MarkSeen(ctx context.Context, propertyID, doorID string, _ bool, t time.Time) error {
	propertyID = strings.TrimSpace(propertyID)
	doorID = strings.TrimSpace(doorID)
	if propertyID == "" || doorID == "" {
		return nil
	}
	if t.IsZero() {
		t = time.Now()
	}
	ms := t.UTC().UnixMilli()

	return s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO doors(property_id, door_id, enabled, last_seen_at_ms, created_at_ms, updated_at_ms)
VALUES (?, ?, 0, ?, ?, ?)
ON CONFLICT(property_id, door_id) DO UPDATE SET
  last_seen_at_ms = excluded.last_seen_at_ms,
  updated_at_ms   = excluded.updated_at_ms;
`, propertyID, doorID, ms, ms, ms); err != nil {
			return fmt.Errorf("MarkSeen %s/%s: %w", propertyID, doorID, err)
		}
		return nil
	})
}

func (s *DoorStore) ListDoors(ctx context.Context, propertyID string) ([]store.DoorRecord, error) {
	rows, err := s.db.QueryContext(ctx, doorColumns+`
WHERE property_id = ?
ORDER BY door_id;`, strings.TrimSpace(propertyID))
	if err != nil {
		return nil, fmt.Errorf("ListDoors query: %w", err)
	}
	defer rows.Close()

	out := []store.DoorRecord{}
	for rows.Next() {
		d, err := scanDoor(rows)
		if err != nil {
			return nil, fmt.Errorf("ListDoors scan: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
