package visit

import "time"

// Snapshot is a read-only copy of a session, safe to hand to other
// goroutines, serialize into the audit log, or return over the API.
type Snapshot struct {
	ID         string `json:"session_id"`
	PropertyID string `json:"property_id"`
	DoorID     string `json:"door_id,omitempty"`
	CameraID   string `json:"camera_id,omitempty"`

	Plate           string  `json:"plate,omitempty"`
	PlateConfidence float64 `json:"plate_confidence,omitempty"`
	IDNumber        string  `json:"-"`
	IDConfidence    float64 `json:"id_confidence,omitempty"`
	VisitorName     string  `json:"visitor_name,omitempty"`
	VehicleType     string  `json:"vehicle_type,omitempty"`
	EvidenceURL     string  `json:"evidence_url,omitempty"`

	ResidentID    string `json:"resident_id,omitempty"`
	ResidentName  string `json:"resident_name,omitempty"`
	ResidentPhone string `json:"-"`
	Unit          string `json:"unit,omitempty"`

	Step              Step              `json:"step"`
	AccessGranted     bool              `json:"access_granted"`
	AuthorizationKind AuthorizationKind `json:"authorization_kind,omitempty"`
	DenialReason      string            `json:"denial_reason,omitempty"`
	CustomMessage     string            `json:"custom_message,omitempty"`

	NotificationSent bool `json:"notification_sent"`
	GateOpened       bool `json:"gate_opened"`
	AccessLogged     bool `json:"access_logged"`
	Escalated        bool `json:"escalated"`

	StartedAt      time.Time  `json:"started_at"`
	LastActivityAt time.Time  `json:"last_activity_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
}

// Snapshot copies the session's current state.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		ID:                s.id,
		PropertyID:        s.propertyID,
		DoorID:            s.doorID,
		CameraID:          s.cameraID,
		Plate:             s.plate,
		PlateConfidence:   s.plateConfidence,
		IDNumber:          s.idNumber,
		IDConfidence:      s.idConfidence,
		VisitorName:       s.visitorName,
		VehicleType:       s.vehicleType,
		EvidenceURL:       s.evidenceURL,
		ResidentID:        s.residentID,
		ResidentName:      s.residentName,
		ResidentPhone:     s.residentPhone,
		Unit:              s.unit,
		Step:              s.step,
		AccessGranted:     s.accessGranted,
		AuthorizationKind: s.authorizationKind,
		DenialReason:      s.denialReason,
		CustomMessage:     s.customMessage,
		NotificationSent:  s.notificationSent,
		GateOpened:        s.gateOpened,
		AccessLogged:      s.accessLogged,
		Escalated:         s.escalated,
		StartedAt:         s.startedAt,
		LastActivityAt:    s.lastActivityAt,
	}
	if !s.completedAt.IsZero() {
		t := s.completedAt
		snap.CompletedAt = &t
	}
	return snap
}
