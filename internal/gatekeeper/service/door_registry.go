package service

import (
	"context"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/store"
)

type DoorRegistry struct {
	store store.DoorStore
	now   func() time.Time
}

func NewDoorRegistry(st store.DoorStore) *DoorRegistry {
	return &DoorRegistry{store: st, now: time.Now}
}

func (r *DoorRegistry) IsKnown(ctx context.Context, propertyID, doorID string) (bool, error) {
	propertyID = strings.TrimSpace(propertyID)
	doorID = strings.TrimSpace(doorID)
	if propertyID == "" || doorID == "" {
		return false, nil
	}
	return r.store.IsKnown(ctx, propertyID, doorID)
}

func (r *DoorRegistry) NoteSeen(ctx context.Context, propertyID, doorID string, known bool) error {
	propertyID = strings.TrimSpace(propertyID)
	doorID = strings.TrimSpace(doorID)
	if propertyID == "" || doorID == "" {
		return nil
	}
	return r.store.MarkSeen(ctx, propertyID, doorID, known, r.now().UTC())
}

// List returns the doors recorded for a property, commissioned or not.
func (r *DoorRegistry) List(ctx context.Context, propertyID string) ([]store.DoorRecord, error) {
	propertyID = strings.TrimSpace(propertyID)
	if propertyID == "" {
		return nil, ErrInvalidPropertyID
	}
	return r.store.ListDoors(ctx, propertyID)
}
