package domain

// Status is the effective outcome of a verification, as reported to callers.
// Only a subset of these values is ever persisted on a License.
type Status string

const (
	StatusUnconfigured       Status = "unconfigured"
	StatusNotFound           Status = "not_found"
	StatusInvalidRequest     Status = "invalid_request"
	StatusActive             Status = "active"
	StatusFree               Status = "free"
	StatusExpired            Status = "expired"
	StatusGracePeriod        Status = "grace_period"
	StatusDisabled           Status = "disabled"
	StatusSuspended          Status = "suspended"
	StatusRevoked            Status = "revoked"
	StatusInactive           Status = "inactive"
	StatusInUse              Status = "in_use"
	StatusDeviceLimitReached Status = "device_limit_reached"
	StatusCheckinTimeout     Status = "checkin_timeout"
	StatusPortalUnreachable  Status = "portal_unreachable"
	StatusError              Status = "error"
)

// Usable reports whether the client application may keep running.
func (s Status) Usable() bool {
	switch s {
	case StatusActive, StatusFree, StatusGracePeriod:
		return true
	}
	return false
}

// Terminal reports whether only an external action can move a license out
// of this status.
func (s Status) Terminal() bool {
	switch s {
	case StatusDisabled, StatusSuspended, StatusRevoked, StatusInactive:
		return true
	}
	return false
}
