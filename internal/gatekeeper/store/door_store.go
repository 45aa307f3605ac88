package store

import (
	"context"
	"time"
)

// DoorRecord is a gate or door at a property. Doors that took an arrival
// without being commissioned show up with Known false.
type DoorRecord struct {
	PropertyID  string    `json:"property_id"`
	DoorID      string    `json:"door_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Known       bool      `json:"known"`
	LastSeen    time.Time `json:"last_seen,omitzero"`
}

// DoorStore tracks which doors are commissioned to take visitors.
type DoorStore interface {
	IsKnown(ctx context.Context, propertyID, doorID string) (bool, error)
	MarkSeen(ctx context.Context, propertyID, doorID string, known bool, t time.Time) error
	// ListDoors returns every door recorded for a property, by door id.
	ListDoors(ctx context.Context, propertyID string) ([]DoorRecord, error)
}
