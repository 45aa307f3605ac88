package service

import (
	"context"
	"time"

	"github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"
)

// Recognizer reads plates and ID documents from a property camera.
type Recognizer interface {
	RecognizePlate(ctx context.Context, propertyID, cameraID string) (visit.PlateReading, error)
	RecognizeID(ctx context.Context, propertyID, cameraID string) (visit.IDReading, error)
}

// GateController drives the physical gate. It reports whether the gate
// acknowledged the open command.
type GateController interface {
	OpenGate(ctx context.Context, propertyID, doorID, reason string) (bool, error)
}

// Notification asks a resident to approve a visitor.
type Notification struct {
	SessionID   string
	PropertyID  string
	Phone       string
	Unit        string
	VisitorName string
	EvidenceURL string
}

// Notifier delivers a Notification out of band. The answer comes back
// later as an authorization callback.
type Notifier interface {
	NotifyResident(ctx context.Context, n Notification) (bool, error)
}

// Escalation hands a waiting visit over to a human operator.
type Escalation struct {
	SessionID    string
	EntryID      string
	Unit         string
	VisitorName  string
	Plate        string
	WaitingSince time.Time
}

type Escalator interface {
	Escalate(ctx context.Context, e Escalation) error
}
