package store

import (
	"context"
	"time"
)

// VehicleRecord is a vehicle allowed in without a human decision.
type VehicleRecord struct {
	PropertyID   string
	Plate        string // normalized
	ResidentID   string
	ResidentName string
	Unit         string
	Active       bool
}

// PreAuthorization is a visitor a resident registered ahead of time.
// IDNumberHash is the identity.HashIDNumber digest; the raw number is
// never stored.
type PreAuthorization struct {
	PropertyID   string
	IDNumberHash []byte
	VisitorName  string
	ResidentID   string
	ResidentName string
	Unit         string
	ValidFrom    time.Time
	ValidUntil   *time.Time
	Revoked      bool
}

// ActiveAt reports whether the pre-authorization covers t.
func (p PreAuthorization) ActiveAt(t time.Time) bool {
	if p.Revoked {
		return false
	}
	if !p.ValidFrom.IsZero() && t.Before(p.ValidFrom) {
		return false
	}
	if p.ValidUntil != nil && !t.Before(*p.ValidUntil) {
		return false
	}
	return true
}

// ResidentRecord is the contact for a unit.
type ResidentRecord struct {
	PropertyID string
	ResidentID string
	Name       string
	Phone      string
	Unit       string // normalized
}

// VehicleStore answers LookupAuthorizedVehicle.
type VehicleStore interface {
	LookupVehicle(ctx context.Context, propertyID, plate string) (VehicleRecord, bool, error)
}

// VisitorStore answers LookupPreAuthorizedVisitor.
type VisitorStore interface {
	LookupPreAuthorization(ctx context.Context, propertyID, idNumber string, at time.Time) (PreAuthorization, bool, error)
	// ListPreAuthorizations returns the entries active at t for a property,
	// optionally narrowed to one unit.
	ListPreAuthorizations(ctx context.Context, propertyID, unit string, at time.Time) ([]PreAuthorization, error)
}

// ResidentStore resolves the resident to contact for a unit.
type ResidentStore interface {
	LookupResident(ctx context.Context, propertyID, unit string) (ResidentRecord, bool, error)
}
