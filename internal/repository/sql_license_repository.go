package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"ampos-license-server/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlLicenseRepository struct {
	db *gorm.DB
}

func NewSQLLicenseRepository(db *gorm.DB) LicenseRepository {
	return &sqlLicenseRepository{db: db}
}

func (r *sqlLicenseRepository) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	var rec licenseRecord
	if err := r.db.WithContext(ctx).First(&rec, "license_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to find license: %w", err)
	}

	var devices []deviceRecord
	if err := r.db.WithContext(ctx).
		Where("license_id = ?", rec.ID).
		Order("first_seen ASC, id ASC").
		Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("failed to load devices: %w", err)
	}

	return recordToLicense(&rec, devices), nil
}

func (r *sqlLicenseRepository) Create(ctx context.Context, license *domain.License) error {
	if license.ID == "" {
		license.ID = uuid.New().String()
	}

	rec := licenseToRecord(license)
	rec.Version = 1
	rec.CurrentDevices = len(license.Devices)

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return err
		}
		for _, d := range license.Devices {
			dr := deviceToRecord(license.ID, d)
			if err := tx.Create(&dr).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrLicenseExists
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	license.Revision = strconv.Itoa(rec.Version)
	license.CurrentDevices = rec.CurrentDevices
	return nil
}

// Update writes license fields and the device ledger in one transaction.
// The version column guards against lost updates; the device count is
// recomputed inside the transaction so a registration that would push a
// capped license past max_devices is rolled back as a conflict.
func (r *sqlLicenseRepository) Update(ctx context.Context, license *domain.License) error {
	version, err := strconv.Atoi(license.Revision)
	if err != nil {
		return fmt.Errorf("invalid license revision %q: %w", license.Revision, err)
	}

	var count int64
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		rec := licenseToRecord(license)
		res := tx.Model(&licenseRecord{}).
			Where("id = ? AND version = ?", license.ID, version).
			Updates(map[string]interface{}{
				"status":                rec.Status,
				"product_name":          rec.ProductName,
				"tier":                  rec.Tier,
				"customer_name":         rec.CustomerName,
				"customer_email":        rec.CustomerEmail,
				"issued_at":             rec.IssuedAt,
				"expires_at":            rec.ExpiresAt,
				"max_devices":           rec.MaxDevices,
				"last_check_in":         rec.LastCheckIn,
				"bound_installation_id": rec.BoundInstallationID,
				"code_checksum":         rec.CodeChecksum,
				"suspension_reason":     rec.SuspensionReason,
				"last_active_at":        rec.LastActiveAt,
				"updated_at":            rec.UpdatedAt,
				"version":               version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRevisionConflict
		}

		var before int64
		if err := tx.Model(&deviceRecord{}).Where("license_id = ?", license.ID).Count(&before).Error; err != nil {
			return err
		}

		for _, d := range license.Devices {
			dr := deviceToRecord(license.ID, d)
			if err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "license_id"}, {Name: "device_id"}},
				DoUpdates: clause.AssignmentColumns([]string{"hostname", "last_seen"}),
			}).Create(&dr).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&deviceRecord{}).Where("license_id = ?", license.ID).Count(&count).Error; err != nil {
			return err
		}
		if count > before && !license.Unlimited() && count > int64(license.MaxDevices) {
			return ErrRevisionConflict
		}

		return tx.Model(&licenseRecord{}).
			Where("id = ?", license.ID).
			Update("current_devices", count).Error
	})
	if err != nil {
		if errors.Is(err, ErrRevisionConflict) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return ErrRevisionConflict
		}
		return fmt.Errorf("failed to update license: %w", err)
	}

	license.Revision = strconv.Itoa(version + 1)
	license.CurrentDevices = int(count)
	return nil
}

func licenseToRecord(l *domain.License) *licenseRecord {
	updatedAt := l.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	return &licenseRecord{
		ID:                  l.ID,
		LicenseKey:          l.Key,
		Status:              string(l.Status),
		ProductName:         l.ProductName,
		Tier:                l.Tier,
		CustomerName:        l.CustomerName,
		CustomerEmail:       l.CustomerEmail,
		IssuedAt:            l.IssuedAt,
		ExpiresAt:           l.ExpiresAt,
		MaxDevices:          l.MaxDevices,
		CurrentDevices:      l.CurrentDevices,
		LastCheckIn:         l.LastCheckIn,
		BoundInstallationID: l.BoundInstallationID,
		CodeChecksum:        l.CodeChecksum,
		SuspensionReason:    l.SuspensionReason,
		LastActiveAt:        l.LastActiveAt,
		UpdatedAt:           updatedAt,
	}
}

func recordToLicense(rec *licenseRecord, devices []deviceRecord) *domain.License {
	l := &domain.License{
		ID:                  rec.ID,
		Key:                 rec.LicenseKey,
		Status:              domain.LicenseStatus(rec.Status),
		ProductName:         rec.ProductName,
		Tier:                rec.Tier,
		CustomerName:        rec.CustomerName,
		CustomerEmail:       rec.CustomerEmail,
		IssuedAt:            rec.IssuedAt,
		ExpiresAt:           rec.ExpiresAt,
		MaxDevices:          rec.MaxDevices,
		CurrentDevices:      len(devices),
		LastCheckIn:         rec.LastCheckIn,
		BoundInstallationID: rec.BoundInstallationID,
		CodeChecksum:        rec.CodeChecksum,
		SuspensionReason:    rec.SuspensionReason,
		LastActiveAt:        rec.LastActiveAt,
		UpdatedAt:           rec.UpdatedAt,
		Revision:            strconv.Itoa(rec.Version),
		Devices:             make([]domain.Device, 0, len(devices)),
	}

	for _, d := range devices {
		l.Devices = append(l.Devices, domain.Device{
			LicenseID: d.LicenseID,
			DeviceID:  d.DeviceID,
			Hostname:  d.Hostname,
			FirstSeen: d.FirstSeen,
			LastSeen:  d.LastSeen,
		})
	}

	return l
}

func deviceToRecord(licenseID string, d domain.Device) deviceRecord {
	return deviceRecord{
		LicenseID: licenseID,
		DeviceID:  d.DeviceID,
		Hostname:  d.Hostname,
		FirstSeen: d.FirstSeen,
		LastSeen:  d.LastSeen,
	}
}
