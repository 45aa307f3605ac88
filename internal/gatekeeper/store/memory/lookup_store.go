package memory

import (
	"bytes"
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

// Directory holds vehicles, pre-authorizations and residents in memory.
// It implements store.VehicleStore, store.VisitorStore and
// store.ResidentStore for tests and the dev backend.
type Directory struct {
	mu        sync.RWMutex
	vehicles  []store.VehicleRecord
	preAuths  []store.PreAuthorization
	residents []store.ResidentRecord
}

func NewDirectory() *Directory {
	return &Directory{}
}

// AddVehicle normalizes and stores a vehicle record.
func (d *Directory) AddVehicle(v store.VehicleRecord) {
	v.Plate = identity.NormalizePlate(v.Plate)
	v.Unit = identity.NormalizeUnit(v.Unit)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.vehicles = append(d.vehicles, v)
}

// AddPreAuthorization stores a pre-authorization. idNumber is hashed here
// when the record carries no digest yet.
func (d *Directory) AddPreAuthorization(p store.PreAuthorization, idNumber string) {
	if len(p.IDNumberHash) == 0 && idNumber != "" {
		p.IDNumberHash = identity.HashIDNumber(idNumber)
	}
	p.Unit = identity.NormalizeUnit(p.Unit)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.preAuths = append(d.preAuths, p)
}

// AddResident normalizes and stores a resident contact.
func (d *Directory) AddResident(r store.ResidentRecord) {
	r.Unit = identity.NormalizeUnit(r.Unit)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.residents = append(d.residents, r)
}

func (d *Directory) LookupVehicle(_ context.Context, propertyID, plate string) (store.VehicleRecord, bool, error) {
	plate = identity.NormalizePlate(plate)
	if plate == "" {
		return store.VehicleRecord{}, false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, v := range d.vehicles {
		if v.PropertyID == propertyID && v.Plate == plate && v.Active {
			return v, true, nil
		}
	}
	return store.VehicleRecord{}, false, nil
}

func (d *Directory) LookupPreAuthorization(_ context.Context, propertyID, idNumber string, at time.Time) (store.PreAuthorization, bool, error) {
	digest := identity.HashIDNumber(idNumber)
	if digest == nil {
		return store.PreAuthorization{}, false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, p := range d.preAuths {
		if p.PropertyID == propertyID && bytes.Equal(p.IDNumberHash, digest) && p.ActiveAt(at) {
			return p, true, nil
		}
	}
	return store.PreAuthorization{}, false, nil
}

func (d *Directory) ListPreAuthorizations(_ context.Context, propertyID, unit string, at time.Time) ([]store.PreAuthorization, error) {
	unit = identity.NormalizeUnit(unit)
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []store.PreAuthorization
	for _, p := range d.preAuths {
		if p.PropertyID != propertyID || !p.ActiveAt(at) {
			continue
		}
		if unit != "" && p.Unit != unit {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (d *Directory) LookupResident(_ context.Context, propertyID, unit string) (store.ResidentRecord, bool, error) {
	unit = identity.NormalizeUnit(unit)
	if unit == "" {
		return store.ResidentRecord{}, false, nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, r := range d.residents {
		if r.PropertyID == propertyID && r.Unit == unit {
			return r, true, nil
		}
	}
	return store.ResidentRecord{}, false, nil
}
