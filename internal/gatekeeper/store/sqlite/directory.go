package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// Directory serves vehicle, pre-authorization and resident lookups from
// sqlite. Rows are written by db.SeedDev or by an admin tool.
type Directory struct {
	db *sql.DB
}

func NewDirectory(db *sql.DB) *Directory {
	return &Directory{db: db}
}

func (d *Directory) LookupVehicle(ctx context.Context, propertyID, plate string) (store.VehicleRecord, bool, error) {
	plate = identity.NormalizePlate(plate)
	if plate == "" {
		return store.VehicleRecord{}, false, nil
	}

	v := store.VehicleRecord{PropertyID: propertyID, Plate: plate, Active: true}
	var residentID, residentName, unit sql.NullString
	err := d.db.QueryRowContext(ctx, `
SELECT resident_id, resident_name, unit
FROM authorized_vehicles
WHERE property_id = ? AND plate = ? AND active = 1;
`, propertyID, plate).Scan(&residentID, &residentName, &unit)
	if err == sql.ErrNoRows {
		return store.VehicleRecord{}, false, nil
	}
	if err != nil {
		return store.VehicleRecord{}, false, fmt.Errorf("LookupVehicle query: %w", err)
	}
	v.ResidentID = residentID.String
	v.ResidentName = residentName.String
	v.Unit = unit.String
	return v, true, nil
}

const preAuthColumns = `
  id_number_hash, visitor_name, resident_id, resident_name, unit,
  valid_from_ms, valid_until_ms`

// activeClause keeps rows that are not revoked and whose window covers ?.
const activeClause = `
  revoked_at_ms IS NULL
  AND (valid_from_ms IS NULL OR valid_from_ms <= ?)
  AND (valid_until_ms IS NULL OR valid_until_ms > ?)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPreAuth(propertyID string, row rowScanner) (store.PreAuthorization, error) {
	p := store.PreAuthorization{PropertyID: propertyID}
	var (
		name, residentID, residentName, unit sql.NullString
		from, until                          sql.NullInt64
	)
	if err := row.Scan(&p.IDNumberHash, &name, &residentID, &residentName, &unit, &from, &until); err != nil {
		return store.PreAuthorization{}, err
	}
	p.VisitorName = name.String
	p.ResidentID = residentID.String
	p.ResidentName = residentName.String
	p.Unit = unit.String
	if from.Valid {
		p.ValidFrom = time.UnixMilli(from.Int64).UTC()
	}
	if until.Valid {
		u := time.UnixMilli(until.Int64).UTC()
		p.ValidUntil = &u
	}
	return p, nil
}

func (d *Directory) LookupPreAuthorization(ctx context.Context, propertyID, idNumber string, at time.Time) (store.PreAuthorization, bool, error) {
	digest := identity.HashIDNumber(idNumber)
	if digest == nil {
		return store.PreAuthorization{}, false, nil
	}
	atMs := at.UTC().UnixMilli()

	row := d.db.QueryRowContext(ctx, `
SELECT`+preAuthColumns+`
FROM pre_authorizations
WHERE property_id = ? AND id_number_hash = ? AND`+activeClause+`
ORDER BY created_at_ms DESC, id DESC
LIMIT 1;
`, propertyID, digest, atMs, atMs)

	p, err := scanPreAuth(propertyID, row)
	if err == sql.ErrNoRows {
		return store.PreAuthorization{}, false, nil
	}
	if err != nil {
		return store.PreAuthorization{}, false, fmt.Errorf("LookupPreAuthorization query: %w", err)
	}
	return p, true, nil
}

func (d *Directory) ListPreAuthorizations(ctx context.Context, propertyID, unit string, at time.Time) ([]store.PreAuthorization, error) {
	unit = identity.NormalizeUnit(unit)
	atMs := at.UTC().UnixMilli()

	rows, err := d.db.QueryContext(ctx, `
SELECT`+preAuthColumns+`
FROM pre_authorizations
WHERE property_id = ? AND (? = '' OR unit = ?) AND`+activeClause+`
ORDER BY created_at_ms DESC, id DESC;
`, propertyID, unit, unit, atMs, atMs)
	if err != nil {
		return nil, fmt.Errorf("ListPreAuthorizations query: %w", err)
	}
	defer rows.Close()

	var out []store.PreAuthorization
	for rows.Next() {
		p, err := scanPreAuth(propertyID, rows)
		if err != nil {
			return nil, fmt.Errorf("ListPreAuthorizations scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (d *Directory) LookupResident(ctx context.Context, propertyID, unit string) (store.ResidentRecord, bool, error) {
	unit = identity.NormalizeUnit(unit)
	if unit == "" {
		return store.ResidentRecord{}, false, nil
	}

	r := store.ResidentRecord{PropertyID: propertyID, Unit: unit}
	err := d.db.QueryRowContext(ctx, `
SELECT resident_id, name, phone
FROM residents
WHERE property_id = ? AND unit = ?
ORDER BY created_at_ms ASC
LIMIT 1;
`, propertyID, unit).Scan(&r.ResidentID, &r.Name, &r.Phone)
	if err == sql.ErrNoRows {
		return store.ResidentRecord{}, false, nil
	}
	if err != nil {
		return store.ResidentRecord{}, false, fmt.Errorf("LookupResident query: %w", err)
	}
	return r, true, nil
}
