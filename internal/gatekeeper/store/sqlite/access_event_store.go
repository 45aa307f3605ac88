package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	dbpkg "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/db"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

type AccessEventStore struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

func NewAccessEventStore(db *sql.DB, writer *dbpkg.Worker) *AccessEventStore {
	return &AccessEventStore{db: db, writer: writer}
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (s *AccessEventStore) RecordEvent(ctx context.Context, rec store.AccessEventRecord) (int64, error) {
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = time.Now().UTC()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.DecidedAt
	}

	var idHash any
	if len(rec.IDNumberHash) == 32 {
		idHash = rec.IDNumberHash
	}
	var snapshot any
	if len(rec.Snapshot) > 0 {
		snapshot = rec.Snapshot
	}

	var id int64
	err := s.writer.Do(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
INSERT INTO access_events(
  session_id, property_id, door_id, step,
  decision_granted, gate_opened, authorization_kind, decision_reason,
  plate, id_number_hash, resident_id, unit,
  started_at_ms, decided_at_ms, snapshot_cbor
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
			rec.SessionID, rec.PropertyID, nullString(rec.DoorID), rec.Step,
			boolInt(rec.Granted), boolInt(rec.GateOpened), nullString(rec.AuthorizationKind), nullString(rec.Reason),
			nullString(rec.Plate), idHash, nullString(rec.ResidentID), nullString(rec.Unit),
			rec.StartedAt.UTC().UnixMilli(), rec.DecidedAt.UTC().UnixMilli(), snapshot,
		)
		if err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	return id, err
}

// ListRecent returns the newest events for a property, up to limit.
func (s *AccessEventStore) ListRecent(ctx context.Context, propertyID string, limit int) ([]store.AccessEventRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, property_id, door_id, step,
       decision_granted, gate_opened, authorization_kind, decision_reason,
       plate, id_number_hash, resident_id, unit,
       started_at_ms, decided_at_ms, snapshot_cbor
FROM access_events
WHERE property_id = ?
ORDER BY decided_at_ms DESC, id DESC
LIMIT ?;
`, propertyID, limit)
	if err != nil {
		return nil, fmt.Errorf("ListRecent query: %w", err)
	}
	defer rows.Close()

	var out []store.AccessEventRecord
	for rows.Next() {
		var (
			rec                                         store.AccessEventRecord
			doorID, kind, reason, plate, resident, unit sql.NullString
			granted, opened                             int
			startedMs, decidedMs                        int64
		)
		if err := rows.Scan(
			&rec.SessionID, &rec.PropertyID, &doorID, &rec.Step,
			&granted, &opened, &kind, &reason,
			&plate, &rec.IDNumberHash, &resident, &unit,
			&startedMs, &decidedMs, &rec.Snapshot,
		); err != nil {
			return nil, fmt.Errorf("ListRecent scan: %w", err)
		}
		rec.DoorID = doorID.String
		rec.AuthorizationKind = kind.String
		rec.Reason = reason.String
		rec.Plate = plate.String
		rec.ResidentID = resident.String
		rec.Unit = unit.String
		rec.Granted = granted == 1
		rec.GateOpened = opened == 1
		rec.StartedAt = time.UnixMilli(startedMs).UTC()
		rec.DecidedAt = time.UnixMilli(decidedMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
