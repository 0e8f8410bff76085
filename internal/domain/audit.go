package domain

import "time"

// VerificationLogEntry is an append-only audit record of one verification.
type VerificationLogEntry struct {
	ID         string    `json:"id"`
	LicenseID  string    `json:"license_id"`
	LicenseKey string    `json:"license_key"`
	DeviceID   string    `json:"device_id,omitempty"`
	IPAddress  string    `json:"ip_address"`
	Checksum   string    `json:"checksum,omitempty"`
	Version    string    `json:"version,omitempty"`
	Outcome    Status    `json:"outcome"`
	CreatedAt  time.Time `json:"created_at"`
}

// Incident sources.
const (
	IncidentSourcePortal = "portal"
	IncidentSourceClient = "client"
)

const (
	// EventTamperingDetected is the only alert event a client sends.
	EventTamperingDetected = "tampering_detected"

	// ReasonClientTampering marks incidents reported by a client's own
	// file baseline check.
	ReasonClientTampering = "client_tampering_detected"
)

// SecurityIncident records a detected tampering attempt, either caught by
// the portal's checksum comparison or reported by a client.
type SecurityIncident struct {
	ID                string    `json:"id"`
	LicenseID         string    `json:"license_id"`
	LicenseKey        string    `json:"license_key"`
	Source            string    `json:"source"`
	DeviceID          string    `json:"device_id,omitempty"`
	Hostname          string    `json:"hostname,omitempty"`
	IPAddress         string    `json:"ip_address"`
	Reason            string    `json:"reason"`
	Detail            string    `json:"detail,omitempty"`
	StoredChecksum    string    `json:"stored_checksum,omitempty"`
	PresentedChecksum string    `json:"presented_checksum,omitempty"`
	DetectedAt        time.Time `json:"detected_at"`
}

// SecurityAlertRequest is a tamper report sent by a client that found its
// own files modified.
type SecurityAlertRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	Event      string `json:"event" validate:"required,eq=tampering_detected"`
	Reason     string `json:"reason" validate:"required,max=255"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=255"`
	Hostname   string `json:"hostname" validate:"omitempty,max=255"`
	Timestamp  int64  `json:"timestamp,omitempty"`
}
