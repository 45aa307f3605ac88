package store

import (
	"context"
	"errors"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/identity"
	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

// AccessEventRecord captures one finished visit for the audit log.
// IDNumberHash holds the keyed digest of the visitor's document; the raw
// number never reaches the log. Snapshot is the CBOR-encoded session.
type AccessEventRecord struct {
	SessionID         string
	PropertyID        string
	DoorID            string
	Step              string
	Granted           bool
	GateOpened        bool
	AuthorizationKind string
	Reason            string
	Plate             string
	IDNumberHash      []byte
	ResidentID        string
	Unit              string
	StartedAt         time.Time
	DecidedAt         time.Time
	Snapshot          []byte
}

// ErrGateWithoutGrant rejects an audit record claiming an opened gate on a
// visit that was never granted.
var ErrGateWithoutGrant = errors.New("gate opened without a grant")

// AccessEventStore persists access decisions as an append-only audit log.
// RecordEvent returns the id of the new row.
type AccessEventStore interface {
	RecordEvent(ctx context.Context, rec AccessEventRecord) (int64, error)
	// ListRecent returns the newest events for a property, at most limit.
	ListRecent(ctx context.Context, propertyID string, limit int) ([]AccessEventRecord, error)
}

// snapshotEncMode encodes snapshots deterministically so identical
// sessions produce identical audit blobs.
var snapshotEncMode = func() cbor.EncMode {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	em, err := opts.EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	return em
}()

// EncodeSnapshot serializes a session snapshot for the audit log.
func EncodeSnapshot(snap visit.Snapshot) ([]byte, error) {
	return snapshotEncMode.Marshal(snap)
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (visit.Snapshot, error) {
	var snap visit.Snapshot
	err := cbor.Unmarshal(data, &snap)
	return snap, err
}

// NewAccessEvent builds the audit record for a snapshot.
func NewAccessEvent(snap visit.Snapshot) (AccessEventRecord, error) {
	blob, err := EncodeSnapshot(snap)
	if err != nil {
		return AccessEventRecord{}, err
	}
	rec := AccessEventRecord{
		SessionID:         snap.ID,
		PropertyID:        snap.PropertyID,
		DoorID:            snap.DoorID,
		Step:              string(snap.Step),
		Granted:           snap.AccessGranted,
		GateOpened:        snap.GateOpened,
		AuthorizationKind: string(snap.AuthorizationKind),
		Reason:            snap.DenialReason,
		Plate:             identity.NormalizePlate(snap.Plate),
		IDNumberHash:      identity.HashIDNumber(snap.IDNumber),
		ResidentID:        snap.ResidentID,
		Unit:              snap.Unit,
		StartedAt:         snap.StartedAt,
		DecidedAt:         snap.LastActivityAt,
		Snapshot:          blob,
	}
	if snap.CompletedAt != nil {
		rec.DecidedAt = *snap.CompletedAt
	}
	return rec, nil
}
