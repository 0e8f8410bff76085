package service

import (
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/pkg/hash"
)

type TamperVerdict int

const (
	// TamperNotChecked means the caller presented no checksum.
	TamperNotChecked TamperVerdict = iota
	// TamperBaselined means no baseline existed and the presented checksum
	// became the baseline. Nothing can be judged on first use.
	TamperBaselined
	TamperMatched
	TamperMismatch
)

type TamperDetector struct{}

func NewTamperDetector() *TamperDetector {
	return &TamperDetector{}
}

// Check compares presented against the stored baseline, setting the baseline
// on first use.
func (t *TamperDetector) Check(license *domain.License, presented string) TamperVerdict {
	if presented == "" {
		return TamperNotChecked
	}

	if license.CodeChecksum == "" {
		license.CodeChecksum = presented
		return TamperBaselined
	}

	if hash.Equal(license.CodeChecksum, presented) {
		return TamperMatched
	}

	return TamperMismatch
}

// Suspend flips the license to suspended and returns the incident to record.
// Suspension is permanent until an administrator changes the status.
func (t *TamperDetector) Suspend(license *domain.License, in VerifyInput, now time.Time) *domain.SecurityIncident {
	license.Status = domain.LicenseSuspended
	license.SuspensionReason = domain.SuspensionChecksumMismatch
	license.UpdatedAt = now

	return &domain.SecurityIncident{
		LicenseID:         license.ID,
		LicenseKey:        license.Key,
		Source:            domain.IncidentSourcePortal,
		DeviceID:          in.DeviceID,
		Hostname:          in.Hostname,
		IPAddress:         in.IPAddress,
		Reason:            domain.SuspensionChecksumMismatch,
		StoredChecksum:    license.CodeChecksum,
		PresentedChecksum: in.Checksum,
		DetectedAt:        now,
	}
}
