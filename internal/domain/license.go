package domain

import (
	"math"
	"regexp"
	"time"
)

type LicenseStatus string

const (
	LicenseActive    LicenseStatus = "active"
	LicenseFree      LicenseStatus = "free"
	LicenseExpired   LicenseStatus = "expired"
	LicenseSuspended LicenseStatus = "suspended"
	LicenseRevoked   LicenseStatus = "revoked"
	LicenseInactive  LicenseStatus = "inactive"
)

// UnlimitedDevices is the max_devices sentinel for licenses without a device cap.
const UnlimitedDevices = 99999

const SuspensionChecksumMismatch = "checksum_mismatch"

// LicenseKeyPattern is the issued key format. It must stay byte-for-byte
// identical to the pattern existing keys were generated against.
var LicenseKeyPattern = regexp.MustCompile(`^AMPOS-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}$`)

func IsValidLicenseKey(key string) bool {
	return LicenseKeyPattern.MatchString(key)
}

type License struct {
	ID                  string        `json:"id"`
	Key                 string        `json:"license_key"`
	Status              LicenseStatus `json:"status"`
	ProductName         string        `json:"product_name"`
	Tier                string        `json:"tier"`
	CustomerName        string        `json:"customer_name"`
	CustomerEmail       string        `json:"customer_email"`
	IssuedAt            time.Time     `json:"issued_at"`
	ExpiresAt           time.Time     `json:"expires_at"`
	MaxDevices          int           `json:"max_devices"`
	CurrentDevices      int           `json:"current_devices"`
	LastCheckIn         *time.Time    `json:"last_check_in,omitempty"`
	BoundInstallationID string        `json:"bound_installation_id,omitempty"`
	CodeChecksum        string        `json:"code_checksum,omitempty"`
	SuspensionReason    string        `json:"suspension_reason,omitempty"`
	LastActiveAt        *time.Time    `json:"last_active_at,omitempty"`
	UpdatedAt           time.Time     `json:"updated_at"`
	Devices             []Device      `json:"devices"`

	// Revision is the store's concurrency token for optimistic updates.
	Revision string `json:"-"`
}

func (l *License) IsUsableStatus() bool {
	return l.Status == LicenseActive || l.Status == LicenseFree
}

func (l *License) Unlimited() bool {
	return l.MaxDevices >= UnlimitedDevices
}

// GraceDeadline is the moment an expired license stops being usable.
func (l *License) GraceDeadline(grace time.Duration) time.Time {
	return l.ExpiresAt.Add(grace)
}

// DaysRemaining counts whole days until expiry, rounded down, so it turns
// negative as soon as the license has expired.
func (l *License) DaysRemaining(now time.Time) int {
	return int(math.Floor(l.ExpiresAt.Sub(now).Hours() / 24))
}
