package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDuplicateSession = errors.New("session already has a pending authorization")
	ErrMissingSession   = errors.New("pending authorization requires an owning session")
)

// PendingStatus is the lifecycle state of a pending authorization.
type PendingStatus string

const (
	StatusPending  PendingStatus = "pending"
	StatusApproved PendingStatus = "approved"
	StatusDenied   PendingStatus = "denied"
	StatusExpired  PendingStatus = "expired"
)

// PendingRegistration is the input to PendingStore.Register. Phone and
// unit are normalized by the store.
type PendingRegistration struct {
	SessionID   string
	Phone       string
	Unit        string
	VisitorName string
	IDNumber    string
	Plate       string
	CreatedAt   time.Time // zero means now
}

// PendingEntry is a registered request waiting for a human decision.
// SessionID points back at the visit; it does not own it.
type PendingEntry struct {
	ID              string        `json:"entry_id"`
	SessionID       string        `json:"session_id"`
	NormalizedPhone string        `json:"normalized_phone"`
	Unit            string        `json:"unit"`
	VisitorName     string        `json:"visitor_name,omitempty"`
	IDNumber        string        `json:"-"`
	Plate           string        `json:"plate,omitempty"`
	Status          PendingStatus `json:"status"`
	CreatedAt       time.Time     `json:"created_at"`
	RespondedAt     *time.Time    `json:"responded_at,omitempty"`
	CustomMessage   string        `json:"custom_message,omitempty"`
	Escalated       bool          `json:"escalated"`
}

// PendingStore is the process-wide registry of authorizations awaiting a
// decision. Find and List operations only return entries still in
// StatusPending unless stated otherwise. Implementations serialize
// mutation per entry and must tolerate Sweep running alongside every other
// call.
type PendingStore interface {
	Register(ctx context.Context, reg PendingRegistration) (string, error)

	// FindByPhone returns the most recent pending entry whose phone matches
	// raw, tolerating a missing or extra international prefix.
	FindByPhone(ctx context.Context, raw string) (PendingEntry, bool, error)
	// FindByUnit returns the most recent pending entry for the unit.
	FindByUnit(ctx context.Context, raw string) (PendingEntry, bool, error)
	// ListByUnit returns every pending entry for the unit, newest first.
	ListByUnit(ctx context.Context, raw string) ([]PendingEntry, error)

	// UpdateStatus resolves a pending entry. It reports false when no
	// pending entry with that id exists.
	UpdateStatus(ctx context.Context, entryID string, status PendingStatus, message string) (bool, error)
	// Reopen returns an answered entry to StatusPending, clearing its
	// response. It reports false when the entry is gone or still pending.
	Reopen(ctx context.Context, entryID string) (bool, error)
	MarkEscalated(ctx context.Context, entryID string) (bool, error)
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]PendingEntry, error)

	Delete(ctx context.Context, entryID string) error
	DeleteBySession(ctx context.Context, sessionID string) error
	// ClearUnitDecisions drops resolved entries left behind for a unit and
	// reports how many were removed. Pending entries are untouched.
	ClearUnitDecisions(ctx context.Context, raw string) (int, error)

	// Sweep removes every entry created before cutoff, whatever its status,
	// and returns the removed entries. Entries that were still pending come
	// back as StatusExpired; answered ones keep their status.
	Sweep(ctx context.Context, cutoff time.Time) ([]PendingEntry, error)

	// List returns all entries regardless of status, newest first.
	List(ctx context.Context) ([]PendingEntry, error)
}
