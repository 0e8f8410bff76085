package service

import (
	"time"

	"ampos-license-server/internal/domain"
)

const DefaultGracePeriod = 7 * 24 * time.Hour

// LifecycleDecision is the effective status computed from stored license
// data and the current time.
type LifecycleDecision struct {
	Status domain.Status

	// Transition is set when the stored status must change, e.g. an active
	// license whose expiry has passed.
	Transition domain.LicenseStatus

	// GraceDeadline is set for grace_period and disabled.
	GraceDeadline time.Time
}

// Proceed reports whether verification continues past the lifecycle check.
func (d LifecycleDecision) Proceed() bool {
	return d.Transition == "" && (d.Status == domain.StatusActive || d.Status == domain.StatusFree)
}

type LifecycleEngine struct {
	gracePeriod time.Duration
}

func NewLifecycleEngine(gracePeriod time.Duration) *LifecycleEngine {
	if gracePeriod <= 0 {
		gracePeriod = DefaultGracePeriod
	}
	return &LifecycleEngine{gracePeriod: gracePeriod}
}

func (e *LifecycleEngine) GracePeriod() time.Duration {
	return e.gracePeriod
}

// Evaluate never mutates the license.
//
//	active|free, not expired  -> active|free
//	active|free, expired      -> expired (persist expired)
//	expired, before deadline  -> grace_period
//	expired, after deadline   -> disabled
//	suspended|revoked|inactive -> reported verbatim
func (e *LifecycleEngine) Evaluate(license *domain.License, now time.Time) LifecycleDecision {
	switch license.Status {
	case domain.LicenseActive, domain.LicenseFree:
		if license.ExpiresAt.Before(now) {
			return LifecycleDecision{
				Status:     domain.StatusExpired,
				Transition: domain.LicenseExpired,
			}
		}
		return LifecycleDecision{Status: domain.Status(license.Status)}

	case domain.LicenseExpired:
		deadline := license.GraceDeadline(e.gracePeriod)
		if now.Before(deadline) {
			return LifecycleDecision{Status: domain.StatusGracePeriod, GraceDeadline: deadline}
		}
		return LifecycleDecision{Status: domain.StatusDisabled, GraceDeadline: deadline}

	default:
		return LifecycleDecision{Status: domain.Status(license.Status)}
	}
}
