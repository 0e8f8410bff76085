package domain

import "time"

// Device is one machine bound to a license, identified by (license, device_id).
type Device struct {
	LicenseID string    `json:"license_id"`
	DeviceID  string    `json:"device_id"`
	Hostname  string    `json:"hostname"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}
