package repository

import (
	"context"
	"fmt"

	"ampos-license-server/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type sqlAuditRepository struct {
	db *gorm.DB
}

func NewSQLAuditRepository(db *gorm.DB) AuditRepository {
	return &sqlAuditRepository{db: db}
}

func (r *sqlAuditRepository) AppendVerification(ctx context.Context, entry *domain.VerificationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	rec := verificationLogRecord{
		ID:         entry.ID,
		LicenseID:  entry.LicenseID,
		LicenseKey: entry.LicenseKey,
		DeviceID:   entry.DeviceID,
		IPAddress:  entry.IPAddress,
		Checksum:   entry.Checksum,
		Version:    entry.Version,
		Outcome:    string(entry.Outcome),
		CreatedAt:  entry.CreatedAt,
	}

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append verification log: %w", err)
	}
	return nil
}

func (r *sqlAuditRepository) AppendIncident(ctx context.Context, incident *domain.SecurityIncident) error {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}

	rec := securityIncidentRecord{
		ID:                incident.ID,
		LicenseID:         incident.LicenseID,
		LicenseKey:        incident.LicenseKey,
		Source:            incident.Source,
		DeviceID:          incident.DeviceID,
		Hostname:          incident.Hostname,
		IPAddress:         incident.IPAddress,
		Reason:            incident.Reason,
		Detail:            incident.Detail,
		StoredChecksum:    incident.StoredChecksum,
		PresentedChecksum: incident.PresentedChecksum,
		DetectedAt:        incident.DetectedAt,
	}

	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("failed to append security incident: %w", err)
	}
	return nil
}
