package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type DoorSeed struct {
	PropertyID  string
	DoorID      string
	DisplayName string
}

type ResidentSeed struct {
	PropertyID string
	ResidentID string
	Name       string
	Phone      string
	Unit       string // normalized
}

type VehicleSeed struct {
	PropertyID   string
	Plate        string // normalized
	ResidentID   string
	ResidentName string
	Unit         string
}

type PreAuthSeed struct {
	PropertyID   string
	IDNumberHash []byte
	VisitorName  string
	ResidentID   string
	ResidentName string
	Unit         string
	ValidUntil   *time.Time
}

type SeedDevOptions struct {
	Doors     []DoorSeed
	Residents []ResidentSeed
	Vehicles  []VehicleSeed
	PreAuths  []PreAuthSeed
}

// SeedDev loads directory fixtures for local runs. Doors and residents
// are upserted; pre-authorizations are only added when no row with the
// same digest exists for the property.
func SeedDev(ctx context.Context, db *sql.DB, opt SeedDevOptions) error {
	now := time.Now().UTC().UnixMilli()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("seed begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, d := range opt.Doors {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO doors(
  property_id, door_id, display_name,
  enabled, commissioned_at_ms,
  created_at_ms, updated_at_ms
) VALUES (?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(property_id, door_id) DO UPDATE SET
  display_name = excluded.display_name,
  enabled = 1,
  commissioned_at_ms = COALESCE(doors.commissioned_at_ms, excluded.commissioned_at_ms),
  revoked_at_ms = NULL,
  updated_at_ms = excluded.updated_at_ms;
`, d.PropertyID, d.DoorID, d.DisplayName, now, now, now); err != nil {
			return fmt.Errorf("seed door %s/%s: %w", d.PropertyID, d.DoorID, err)
		}
	}

	for _, r := range opt.Residents {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO residents(property_id, resident_id, name, phone, unit, created_at_ms)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(property_id, resident_id) DO UPDATE SET
  name = excluded.name,
  phone = excluded.phone,
  unit = excluded.unit;
`, r.PropertyID, r.ResidentID, r.Name, r.Phone, r.Unit, now); err != nil {
			return fmt.Errorf("seed resident %s: %w", r.ResidentID, err)
		}
	}

	for _, v := range opt.Vehicles {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO authorized_vehicles(property_id, plate, resident_id, resident_name, unit, active, created_at_ms)
VALUES (?, ?, ?, ?, ?, 1, ?)
ON CONFLICT(property_id, plate) DO UPDATE SET
  resident_id = excluded.resident_id,
  resident_name = excluded.resident_name,
  unit = excluded.unit,
  active = 1;
`, v.PropertyID, v.Plate, v.ResidentID, v.ResidentName, v.Unit, now); err != nil {
			return fmt.Errorf("seed vehicle %s: %w", v.Plate, err)
		}
	}

	for _, p := range opt.PreAuths {
		var until any
		if p.ValidUntil != nil {
			until = p.ValidUntil.UTC().UnixMilli()
		}
		var hash any
		if len(p.IDNumberHash) == 32 {
			hash = p.IDNumberHash
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO pre_authorizations(
  property_id, id_number_hash, visitor_name,
  resident_id, resident_name, unit,
  valid_from_ms, valid_until_ms, created_at_ms
)
SELECT ?, ?, ?, ?, ?, ?, NULL, ?, ?
WHERE NOT EXISTS (
  SELECT 1 FROM pre_authorizations
  WHERE property_id = ? AND id_number_hash IS ? AND visitor_name IS ? AND revoked_at_ms IS NULL
);
`, p.PropertyID, hash, p.VisitorName, p.ResidentID, p.ResidentName, p.Unit, until, now,
			p.PropertyID, hash, p.VisitorName); err != nil {
			return fmt.Errorf("seed pre-authorization %s: %w", p.VisitorName, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("seed commit: %w", err)
	}
	return nil
}
