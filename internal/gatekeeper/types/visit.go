package types

import "github.com/BrandonDHaskell/Portunus/gatekeeper/internal/gatekeeper/visit"

type ArrivalRequest struct {
	PropertyID  string `json:"property_id"`
	DoorID      string `json:"door_id"`
	CameraID    string `json:"camera_id,omitempty"`
	VisitorName string `json:"visitor_name,omitempty"` // from the intercom conversation
	Unit        string `json:"unit,omitempty"`
}

type VisitResponse struct {
	OK         bool           `json:"ok"`
	Known      bool           `json:"known"`
	Reason     string         `json:"reason,omitempty"`
	Visit      visit.Snapshot `json:"visit"`
	ServerTime string         `json:"server_time"`
}
