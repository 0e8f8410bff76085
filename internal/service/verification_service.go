package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ampos-license-server/internal/domain"
	"ampos-license-server/internal/metrics"
	"ampos-license-server/internal/repository"
	"ampos-license-server/pkg/logger"

	"github.com/sethvargo/go-retry"
)

const (
	maxVerifyAttempts = 3

	// conflictBackoff is the first pause before re-reading a license that
	// another request updated; it doubles on each further conflict.
	conflictBackoff = 10 * time.Millisecond
)

// ReasonIntegrityFailure marks outcomes forced by a tripped kill switch.
const ReasonIntegrityFailure = "integrity_failure"

// KillSwitch disables every verification handled by this process when the
// server's own code fails its integrity check.
type KillSwitch interface {
	Tripped() bool
}

type VerifyMode int

const (
	// ModeDirect is the plaintext verification keyed by license, device and
	// checksum. It enforces the check-in timeout.
	ModeDirect VerifyMode = iota
	// ModeBinding is the installation-binding call made by a deployed client.
	ModeBinding
)

type VerifyInput struct {
	Mode           VerifyMode
	LicenseKey     string
	Checksum       string
	DeviceID       string
	Hostname       string
	Version        string
	UserID         string
	InstallationID string
	IPAddress      string
}

// Outcome is the result of one verification. Business failures such as
// expiry or suspension are outcomes, not errors.
type Outcome struct {
	Status           domain.Status
	License          *domain.License
	Entitlements     domain.Entitlements
	GraceDeadline    time.Time
	DaysRemaining    int
	DaysDisconnected int
	LastCheckIn      *time.Time
	CheckedInAt      time.Time
	ChecksumVerified bool
	TamperDetected   bool
	Reason           string
	Warnings         []string
}

func (o *Outcome) Valid() bool {
	return o.Status == domain.StatusActive || o.Status == domain.StatusFree
}

type VerificationConfig struct {
	GracePeriod       time.Duration
	CheckinTimeout    time.Duration
	ExpiryWarningDays int
}

type VerificationService struct {
	licenses   repository.LicenseRepository
	audit      repository.AuditRepository
	killSwitch KillSwitch
	lifecycle  *LifecycleEngine
	tamper     *TamperDetector
	cfg        VerificationConfig
	now        func() time.Time

	conflictBackoff time.Duration
}

func NewVerificationService(
	licenses repository.LicenseRepository,
	audit repository.AuditRepository,
	killSwitch KillSwitch,
	cfg VerificationConfig,
) *VerificationService {
	return &VerificationService{
		licenses:   licenses,
		audit:      audit,
		killSwitch: killSwitch,
		lifecycle:  NewLifecycleEngine(cfg.GracePeriod),
		tamper:     NewTamperDetector(),
		cfg:        cfg,
		now:        time.Now,

		conflictBackoff: conflictBackoff,
	}
}

func (s *VerificationService) Verify(ctx context.Context, in VerifyInput) (*Outcome, error) {
	out, err := s.verify(ctx, in)
	if err == nil {
		metrics.VerificationsTotal.WithLabelValues(string(out.Status)).Inc()
	}
	return out, err
}

func (s *VerificationService) verify(ctx context.Context, in VerifyInput) (*Outcome, error) {
	if !domain.IsValidLicenseKey(in.LicenseKey) {
		return &Outcome{Status: domain.StatusInvalidRequest}, nil
	}
	if in.Mode == ModeBinding && in.InstallationID == "" {
		return &Outcome{Status: domain.StatusInvalidRequest}, nil
	}

	if s.killSwitch != nil && s.killSwitch.Tripped() {
		logger.Warn("verification refused, server integrity check failed", "license_key", in.LicenseKey, "ip", in.IPAddress)
		return &Outcome{Status: domain.StatusDisabled, Reason: ReasonIntegrityFailure}, nil
	}

	var out *Outcome
	backoff := retry.WithMaxRetries(maxVerifyAttempts-1, retry.NewExponential(s.conflictBackoff))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := s.evaluate(ctx, in)
		if errors.Is(err, repository.ErrRevisionConflict) {
			metrics.RevisionConflictsTotal.Inc()
			logger.Debug("license changed during verification, retrying", "license_key", in.LicenseKey)
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}

		out = res
		return nil
	})
	if errors.Is(err, repository.ErrRevisionConflict) {
		return nil, ErrTooManyConflicts
	}
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, in, out)
	return out, nil
}

// evaluate runs one read-decide-write pass. It returns ErrRevisionConflict
// when the license changed between the read and the write.
func (s *VerificationService) evaluate(ctx context.Context, in VerifyInput) (*Outcome, error) {
	license, err := s.licenses.FindByKey(ctx, in.LicenseKey)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			logger.Warn("verification for unknown license key", "license_key", in.LicenseKey, "ip", in.IPAddress)
			return &Outcome{Status: domain.StatusNotFound}, nil
		}
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}

	now := s.now()
	out := &Outcome{
		License:       license,
		Entitlements:  domain.LookupTier(license.Tier),
		DaysRemaining: license.DaysRemaining(now),
	}

	decision := s.lifecycle.Evaluate(license, now)
	out.Status = decision.Status
	out.GraceDeadline = decision.GraceDeadline
	if license.Status == domain.LicenseSuspended {
		out.Reason = license.SuspensionReason
	}

	if decision.Transition != "" {
		logger.Info("license status transition", "license_key", license.Key, "from", license.Status, "to", decision.Transition)
		license.Status = decision.Transition
		license.UpdatedAt = now
		if err := s.licenses.Update(ctx, license); err != nil {
			return nil, err
		}
		return out, nil
	}
	if !decision.Proceed() {
		return out, nil
	}

	// Tamper detection runs before device and check-in accounting so a
	// modified client cannot extend either.
	verdict := s.tamper.Check(license, in.Checksum)
	if verdict == TamperMismatch {
		logger.Error("code tampering detected, suspending license",
			"license_key", license.Key,
			"device_id", in.DeviceID,
			"ip", in.IPAddress,
			"reason", domain.SuspensionChecksumMismatch,
		)
		incident := s.tamper.Suspend(license, in, now)
		if err := s.licenses.Update(ctx, license); err != nil {
			return nil, err
		}
		metrics.TamperDetectionsTotal.Inc()
		if err := s.audit.AppendIncident(ctx, incident); err != nil {
			logger.Error("failed to record security incident", "license_key", license.Key, "error", err)
		}

		out.Status = domain.StatusSuspended
		out.Reason = domain.SuspensionChecksumMismatch
		out.TamperDetected = true
		return out, nil
	}
	out.ChecksumVerified = verdict == TamperMatched || verdict == TamperBaselined

	// The first checksum is stored before the check-in, binding and device
	// steps so a request refused by one of them still fixes the baseline.
	if verdict == TamperBaselined {
		license.UpdatedAt = now
		if err := s.licenses.Update(ctx, license); err != nil {
			return nil, err
		}
	}

	if in.Mode == ModeDirect && s.cfg.CheckinTimeout > 0 && license.LastCheckIn != nil {
		if since := now.Sub(*license.LastCheckIn); since > s.cfg.CheckinTimeout {
			out.Status = domain.StatusCheckinTimeout
			out.DaysDisconnected = int(since.Hours() / 24)
			out.LastCheckIn = license.LastCheckIn
			return out, nil
		}
	}

	if in.Mode == ModeBinding {
		if license.BoundInstallationID == "" {
			logger.Info("binding license to installation", "license_key", license.Key, "installation_id", in.InstallationID)
			license.BoundInstallationID = in.InstallationID
		} else if license.BoundInstallationID != in.InstallationID {
			out.Status = domain.StatusInUse
			return out, nil
		}
	}

	if in.DeviceID != "" {
		ledger := NewDeviceLedger(license)
		if err := ledger.Register(in.DeviceID, in.Hostname, now); err != nil {
			out.Status = domain.StatusDeviceLimitReached
			return out, nil
		}
	}

	license.LastCheckIn = &now
	license.LastActiveAt = &now
	license.UpdatedAt = now
	if err := s.licenses.Update(ctx, license); err != nil {
		return nil, err
	}

	out.CheckedInAt = now
	out.LastCheckIn = license.LastCheckIn
	if out.DaysRemaining <= s.cfg.ExpiryWarningDays {
		out.Warnings = append(out.Warnings, fmt.Sprintf("License expires in %d days. Please renew soon.", out.DaysRemaining))
	}

	return out, nil
}

func (s *VerificationService) recordAudit(ctx context.Context, in VerifyInput, out *Outcome) {
	if out.License == nil {
		return
	}

	entry := &domain.VerificationLogEntry{
		LicenseID:  out.License.ID,
		LicenseKey: out.License.Key,
		DeviceID:   in.DeviceID,
		IPAddress:  in.IPAddress,
		Checksum:   in.Checksum,
		Version:    in.Version,
		Outcome:    out.Status,
		CreatedAt:  s.now(),
	}

	if err := s.audit.AppendVerification(ctx, entry); err != nil {
		logger.Error("failed to append verification log", "license_key", out.License.Key, "error", err)
	}
}
