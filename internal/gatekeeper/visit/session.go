// Package visit models one visitor's access attempt as a state machine.
//
// A Session is owned by a single goroutine at a time (the session
// registry serializes access). Every exported mutator consumes the result
// of exactly one external call and either advances the step or returns
// ErrInvalidTransition without touching the session.
package visit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidTransition = errors.New("invalid visit transition")
	ErrGateInvariant     = errors.New("gate open requested for a session without a grant")
	ErrInvalidKind       = errors.New("grant requires an authorization kind")
)

// Denial reasons recorded on sessions that end without access.
const (
	ReasonVehicleNotAuthorized = "vehicle_not_authorized"
	ReasonNoResident           = "no_resident_for_unit"
	ReasonResidentDenied       = "resident_denied"
	ReasonOperatorDenied       = "operator_denied"
	ReasonNotificationFailed   = "notification_failed"
	ReasonAuthorizationTimeout = "authorization_timeout"
	ReasonSessionTimeout       = "session_timeout"
	ReasonGateFailed           = "gate_failed"
	ReasonGateInvariant        = "gate_invariant_violation"
	ReasonRecognitionFailed    = "recognition_failed"
	ReasonLookupFailed         = "lookup_failed"
)

// PlateReading is what plate recognition returned for the arrival camera.
type PlateReading struct {
	Plate       string
	Confidence  float64
	VehicleType string
	SnapshotURL string
}

// IDReading is what document recognition returned.
type IDReading struct {
	IDNumber   string
	Confidence float64
	Name       string
}

// Destination is what the visitor told the gate: who they are and where
// they are going.
type Destination struct {
	VisitorName string
	Unit        string
}

// Party is the resident a lookup resolved the visit to.
type Party struct {
	Authorized    bool
	ResidentID    string
	ResidentName  string
	ResidentPhone string
	Unit          string
}

// Params seeds a new session.
type Params struct {
	PropertyID string
	DoorID     string
	CameraID   string

	// Now defaults to time.Now.
	Now func() time.Time
}

// Session tracks one visit from arrival to a terminal decision.
type Session struct {
	id         string
	propertyID string
	doorID     string
	cameraID   string

	plate           string
	plateConfidence float64
	idNumber        string
	idConfidence    float64
	visitorName     string
	vehicleType     string
	evidenceURL     string

	residentID    string
	residentName  string
	residentPhone string
	unit          string

	step              Step
	accessGranted     bool
	authorizationKind AuthorizationKind
	denialReason      string
	customMessage     string

	notificationSent bool
	gateOpened       bool
	accessLogged     bool
	escalated        bool

	startedAt      time.Time
	lastActivityAt time.Time
	completedAt    time.Time

	now func() time.Time
}

// New creates a session in StepArrived with a fresh id.
func New(p Params) *Session {
	now := p.Now
	if now == nil {
		now = time.Now
	}
	t := now().UTC()
	return &Session{
		id:             uuid.NewString(),
		propertyID:     strings.TrimSpace(p.PropertyID),
		doorID:         strings.TrimSpace(p.DoorID),
		cameraID:       strings.TrimSpace(p.CameraID),
		step:           StepArrived,
		startedAt:      t,
		lastActivityAt: t,
		now:            now,
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) PropertyID() string { return s.propertyID }
func (s *Session) DoorID() string     { return s.doorID }
func (s *Session) CameraID() string   { return s.cameraID }
func (s *Session) Step() Step         { return s.step }
func (s *Session) Terminal() bool     { return s.step.Terminal() }

func (s *Session) Plate() string         { return s.plate }
func (s *Session) IDNumber() string      { return s.idNumber }
func (s *Session) VisitorName() string   { return s.visitorName }
func (s *Session) Unit() string          { return s.unit }
func (s *Session) ResidentPhone() string { return s.residentPhone }
func (s *Session) EvidenceURL() string   { return s.evidenceURL }
func (s *Session) AccessGranted() bool   { return s.accessGranted }
func (s *Session) GateOpened() bool      { return s.gateOpened }
func (s *Session) AccessLogged() bool    { return s.accessLogged }
func (s *Session) Escalated() bool       { return s.escalated }

// LastActivityAt is the time of the most recent transition.
func (s *Session) LastActivityAt() time.Time { return s.lastActivityAt }

// CompletedAt is zero until the session is terminal.
func (s *Session) CompletedAt() time.Time { return s.completedAt }

// NeedsNotification reports whether the resident has not been notified
// yet. Retries of the contact step must check it before dispatching.
func (s *Session) NeedsNotification() bool { return !s.notificationSent }

func (s *Session) moveTo(to Step) error {
	if !CanTransition(s.step, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.step, to)
	}
	t := s.now().UTC()
	s.step = to
	s.lastActivityAt = t
	if to.Terminal() {
		s.completedAt = t
	}
	return nil
}

func (s *Session) require(step Step) error {
	if s.step != step {
		return fmt.Errorf("%w: expected %s, session is %s", ErrInvalidTransition, step, s.step)
	}
	return nil
}

func (s *Session) adoptParty(p Party) {
	if p.ResidentID != "" {
		s.residentID = p.ResidentID
	}
	if p.ResidentName != "" {
		s.residentName = p.ResidentName
	}
	if p.ResidentPhone != "" {
		s.residentPhone = p.ResidentPhone
	}
	if p.Unit != "" {
		s.unit = p.Unit
	}
}

// BeginRecognition moves an arrival into plate recognition.
func (s *Session) BeginRecognition() error {
	return s.moveTo(StepRecognizingPlate)
}

// ApplyPlate records the plate reading. It reports whether the reading is
// confident enough to look up; when it is not, the session moves on to
// the visitor conversation.
func (s *Session) ApplyPlate(r PlateReading, threshold float64) (bool, error) {
	if err := s.require(StepRecognizingPlate); err != nil {
		return false, err
	}
	s.plate = strings.TrimSpace(r.Plate)
	s.plateConfidence = r.Confidence
	if r.VehicleType != "" {
		s.vehicleType = r.VehicleType
	}
	if r.SnapshotURL != "" {
		s.evidenceURL = r.SnapshotURL
	}
	if s.plate == "" || r.Confidence < threshold {
		return false, s.moveTo(StepConversing)
	}
	s.lastActivityAt = s.now().UTC()
	return true, nil
}

// ApplyVehicleMatch grants access for an authorized vehicle, otherwise
// continues to the visitor conversation.
func (s *Session) ApplyVehicleMatch(p Party) error {
	if err := s.require(StepRecognizingPlate); err != nil {
		return err
	}
	if !p.Authorized {
		return s.moveTo(StepConversing)
	}
	s.adoptParty(p)
	return s.decide(true, KindAutomaticPlate, "", "")
}

// ApplyConversation records who the visitor is and where they are going.
func (s *Session) ApplyConversation(d Destination) error {
	if err := s.require(StepConversing); err != nil {
		return err
	}
	if n := strings.TrimSpace(d.VisitorName); n != "" {
		s.visitorName = n
	}
	if u := strings.TrimSpace(d.Unit); u != "" && s.unit == "" {
		s.unit = u
	}
	return s.moveTo(StepRequestingID)
}

// ApplyIDReading records the document reading and reports whether it is
// confident enough to check against pre-authorizations.
func (s *Session) ApplyIDReading(r IDReading, threshold float64) (bool, error) {
	if err := s.require(StepRequestingID); err != nil {
		return false, err
	}
	s.idNumber = strings.TrimSpace(r.IDNumber)
	s.idConfidence = r.Confidence
	if n := strings.TrimSpace(r.Name); n != "" && s.visitorName == "" {
		s.visitorName = n
	}
	s.lastActivityAt = s.now().UTC()
	return s.idNumber != "" && r.Confidence >= threshold, nil
}

// ApplyPreAuthorization grants access to a pre-authorized visitor,
// otherwise moves on to contacting the resident.
func (s *Session) ApplyPreAuthorization(p Party) error {
	if err := s.require(StepRequestingID); err != nil {
		return err
	}
	if !p.Authorized {
		return s.moveTo(StepContactingResident)
	}
	s.adoptParty(p)
	return s.decide(true, KindPreAuthorized, "", "")
}

// ApplyResident records the resident to contact. A unit with nobody on
// file is denied.
func (s *Session) ApplyResident(p Party, found bool) error {
	if err := s.require(StepContactingResident); err != nil {
		return err
	}
	if !found || strings.TrimSpace(p.ResidentPhone) == "" {
		return s.decide(false, KindNone, ReasonNoResident, "")
	}
	s.adoptParty(p)
	s.lastActivityAt = s.now().UTC()
	return nil
}

// ApplyNotification records the outcome of notifying the resident. A
// failed dispatch ends the session in StepError.
func (s *Session) ApplyNotification(sent bool) error {
	if err := s.require(StepContactingResident); err != nil {
		return err
	}
	if !sent {
		return s.Fail(ReasonNotificationFailed)
	}
	s.notificationSent = true
	s.lastActivityAt = s.now().UTC()
	return nil
}

// Suspend parks the session until a resident, operator or timeout
// resumes it. Any decision left over from an earlier pass is cleared
// first so a previous visitor's approval can never carry over.
func (s *Session) Suspend() error {
	if err := s.require(StepContactingResident); err != nil {
		return err
	}
	s.accessGranted = false
	s.authorizationKind = KindNone
	s.denialReason = ""
	s.customMessage = ""
	return s.moveTo(StepAwaitingAuthorization)
}

// Decide records the answer to a suspended session.
func (s *Session) Decide(granted bool, kind AuthorizationKind, reason, message string) error {
	if err := s.require(StepAwaitingAuthorization); err != nil {
		return err
	}
	return s.decide(granted, kind, reason, message)
}

func (s *Session) decide(granted bool, kind AuthorizationKind, reason, message string) error {
	if granted && !kind.Valid() {
		return ErrInvalidKind
	}
	if !CanTransition(s.step, StepDecided) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.step, StepDecided)
	}
	s.accessGranted = granted
	if granted {
		s.authorizationKind = kind
		s.denialReason = ""
	} else {
		s.authorizationKind = KindNone
		s.denialReason = reason
	}
	s.customMessage = message
	return s.moveTo(StepDecided)
}

// CheckOpenAllowed must pass before the gate is commanded open.
func (s *Session) CheckOpenAllowed() error {
	if s.step != StepDecided || !s.accessGranted || !s.authorizationKind.Valid() {
		return fmt.Errorf("%w: session %s step=%s granted=%t", ErrGateInvariant, s.id, s.step, s.accessGranted)
	}
	return nil
}

// ApplyGateResult records the gate command outcome. A failed command ends
// the session in StepError; the grant itself stands.
func (s *Session) ApplyGateResult(opened bool) error {
	if err := s.CheckOpenAllowed(); err != nil {
		return err
	}
	if !opened {
		s.denialReason = ReasonGateFailed
		return s.moveTo(StepError)
	}
	s.gateOpened = true
	return s.moveTo(StepAccessGranted)
}

// Deny closes a decided session without opening the gate.
func (s *Session) Deny(reason string) error {
	if err := s.require(StepDecided); err != nil {
		return err
	}
	s.accessGranted = false
	if reason != "" {
		s.denialReason = reason
	}
	return s.moveTo(StepAccessDenied)
}

// TimeOut ends a non-terminal session without access.
func (s *Session) TimeOut(reason string) error {
	if s.gateOpened {
		return fmt.Errorf("%w: gate already opened", ErrInvalidTransition)
	}
	if err := s.moveTo(StepTimedOut); err != nil {
		return err
	}
	s.accessGranted = false
	s.denialReason = reason
	return nil
}

// Fail ends a non-terminal session after an unrecoverable error.
func (s *Session) Fail(reason string) error {
	if err := s.moveTo(StepError); err != nil {
		return err
	}
	if !s.gateOpened {
		s.accessGranted = false
	}
	s.denialReason = reason
	return nil
}

// MarkLogged records the audit write. It reports false if the session was
// already logged.
func (s *Session) MarkLogged() bool {
	if s.accessLogged {
		return false
	}
	s.accessLogged = true
	return true
}

// MarkEscalated records that an operator was asked to decide. It reports
// false if that already happened.
func (s *Session) MarkEscalated() bool {
	if s.escalated {
		return false
	}
	s.escalated = true
	return true
}
