package domain

import (
	"encoding/json"
	"fmt"
)

// TimestampLayout is the wall-clock format used on the wire.
const TimestampLayout = "2006-01-02 15:04:05"

// VerifyLicenseRequest is the direct verification call (plaintext response).
type VerifyLicenseRequest struct {
	LicenseKey string `json:"license_key" validate:"required,license_key"`
	Checksum   string `json:"checksum" validate:"omitempty,max=128"`
	DeviceID   string `json:"device_id" validate:"omitempty,max=255"`
	Hostname   string `json:"hostname" validate:"omitempty,max=255"`
	Version    string `json:"version" validate:"omitempty,max=64"`
}

// BindInstallationRequest is the installation-binding call made by a client
// during setup and on its weekly check (encrypted response).
type BindInstallationRequest struct {
	AppLicenseKey  string      `json:"app_license_key" validate:"required,license_key"`
	UserID         LooseString `json:"user_id" validate:"omitempty,max=255"`
	InstallationID string      `json:"installation_id" validate:"required,max=64"`
	AppVersion     string      `json:"app_version" validate:"omitempty,max=64"`
	Checksum       string      `json:"checksum" validate:"omitempty,max=128"`
	DeviceID       string      `json:"device_id" validate:"omitempty,max=255"`
	Hostname       string      `json:"hostname" validate:"omitempty,max=255"`
}

// LooseString holds an identifier that clients send either as a JSON string
// or as a number, such as a session user id.
type LooseString string

func (s *LooseString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = ""
		return nil
	}

	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = LooseString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(data, &num); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*s = LooseString(num.String())
	return nil
}

type LicenseInfo struct {
	Key              string `json:"key"`
	Status           string `json:"status"`
	Product          string `json:"product"`
	Customer         string `json:"customer"`
	IssuedAt         string `json:"issued_at"`
	ExpiresAt        string `json:"expires_at"`
	DaysRemaining    int    `json:"days_remaining"`
	MaxDevices       int    `json:"max_devices"`
	CurrentDevices   int    `json:"current_devices"`
	LastCheckIn      string `json:"last_check_in"`
	ChecksumVerified bool   `json:"checksum_verified"`
}

type VerifySuccessResponse struct {
	Success  bool        `json:"success"`
	Valid    bool        `json:"valid"`
	Message  string      `json:"message"`
	License  LicenseInfo `json:"license"`
	Warnings []string    `json:"warnings"`
}

type VerifyFailureResponse struct {
	Success          bool   `json:"success"`
	Valid            bool   `json:"valid"`
	Error            string `json:"error"`
	Message          string `json:"message"`
	Status           Status `json:"status,omitempty"`
	Reason           string `json:"reason,omitempty"`
	ExpiredAt        string `json:"expired_at,omitempty"`
	GracePeriodEnd   string `json:"grace_period_end,omitempty"`
	CurrentDevices   *int   `json:"current_devices,omitempty"`
	MaxDevices       *int   `json:"max_devices,omitempty"`
	DaysDisconnected *int   `json:"days_disconnected,omitempty"`
	LastCheckIn      string `json:"last_check_in,omitempty"`
	Warning          string `json:"warning,omitempty"`
}

// EntitlementPayload is the plaintext of the encrypted binding response.
type EntitlementPayload struct {
	Success        bool     `json:"success"`
	Message        string   `json:"message"`
	ActualStatus   Status   `json:"actual_status"`
	ExpiresAt      string   `json:"expires_at,omitempty"`
	Tier           string   `json:"tier,omitempty"`
	MaxProducts    int      `json:"max_products,omitempty"`
	MaxUsers       int      `json:"max_users,omitempty"`
	Features       []string `json:"features,omitempty"`
	ProductName    string   `json:"product_name,omitempty"`
	GracePeriodEnd string   `json:"grace_period_end,omitempty"`
}
