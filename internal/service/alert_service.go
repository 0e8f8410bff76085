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
)

var ErrInvalidLicenseKey = errors.New("invalid license key format")

type AlertInput struct {
	LicenseKey string
	Reason     string
	DeviceID   string
	Hostname   string
	IPAddress  string
}

// AlertService records tamper reports sent by clients. A report is evidence
// for support staff only; it never changes the license.
type AlertService struct {
	licenses repository.LicenseRepository
	audit    repository.AuditRepository
	now      func() time.Time
}

func NewAlertService(licenses repository.LicenseRepository, audit repository.AuditRepository) *AlertService {
	return &AlertService{
		licenses: licenses,
		audit:    audit,
		now:      time.Now,
	}
}

// Report appends a client-sourced security incident. Unknown keys return
// repository.ErrLicenseNotFound so anonymous callers cannot fill the log.
func (s *AlertService) Report(ctx context.Context, in AlertInput) (*domain.SecurityIncident, error) {
	if !domain.IsValidLicenseKey(in.LicenseKey) {
		return nil, ErrInvalidLicenseKey
	}

	license, err := s.licenses.FindByKey(ctx, in.LicenseKey)
	if err != nil {
		if errors.Is(err, repository.ErrLicenseNotFound) {
			logger.Warn("security alert for unknown license key", "license_key", in.LicenseKey, "ip", in.IPAddress)
			return nil, err
		}
		return nil, fmt.Errorf("failed to look up license: %w", err)
	}

	logger.Error("client reported code tampering",
		"license_key", license.Key,
		"device_id", in.DeviceID,
		"hostname", in.Hostname,
		"ip", in.IPAddress,
		"detail", in.Reason,
	)

	incident := &domain.SecurityIncident{
		LicenseID:      license.ID,
		LicenseKey:     license.Key,
		Source:         domain.IncidentSourceClient,
		DeviceID:       in.DeviceID,
		Hostname:       in.Hostname,
		IPAddress:      in.IPAddress,
		Reason:         domain.ReasonClientTampering,
		Detail:         in.Reason,
		StoredChecksum: license.CodeChecksum,
		DetectedAt:     s.now(),
	}

	if err := s.audit.AppendIncident(ctx, incident); err != nil {
		return nil, err
	}

	metrics.ClientAlertsTotal.Inc()
	return incident, nil
}
