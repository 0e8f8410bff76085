package repository

import (
	"fmt"
	"time"

	"ampos-license-server/pkg/logger"

	charmlog "github.com/charmbracelet/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type SQLConfig struct {
	Driver string // postgres | sqlite
	DSN    string
	LogSQL bool
}

type licenseRecord struct {
	ID                  string `gorm:"primaryKey;size:36"`
	LicenseKey          string `gorm:"uniqueIndex;size:64;not null"`
	Status              string `gorm:"size:32;not null"`
	ProductName         string
	Tier                string `gorm:"size:32"`
	CustomerName        string
	CustomerEmail       string
	IssuedAt            time.Time
	ExpiresAt           time.Time
	MaxDevices          int
	CurrentDevices      int
	LastCheckIn         *time.Time
	BoundInstallationID string `gorm:"size:64"`
	CodeChecksum        string `gorm:"size:128"`
	SuspensionReason    string `gorm:"size:64"`
	LastActiveAt        *time.Time
	UpdatedAt           time.Time
	Version             int `gorm:"not null;default:1"`
}

func (licenseRecord) TableName() string { return "licenses" }

type deviceRecord struct {
	ID        uint   `gorm:"primaryKey"`
	LicenseID string `gorm:"size:36;not null;uniqueIndex:idx_license_device"`
	DeviceID  string `gorm:"size:255;not null;uniqueIndex:idx_license_device"`
	Hostname  string
	FirstSeen time.Time
	LastSeen  time.Time
}

func (deviceRecord) TableName() string { return "license_devices" }

type verificationLogRecord struct {
	ID         string `gorm:"primaryKey;size:36"`
	LicenseID  string `gorm:"size:36;index"`
	LicenseKey string `gorm:"size:64"`
	DeviceID   string
	IPAddress  string `gorm:"size:64"`
	Checksum   string `gorm:"size:128"`
	Version    string `gorm:"size:64"`
	Outcome    string `gorm:"size:32"`
	CreatedAt  time.Time
}

func (verificationLogRecord) TableName() string { return "license_verification_logs" }

type securityIncidentRecord struct {
	ID                string `gorm:"primaryKey;size:36"`
	LicenseID         string `gorm:"size:36;index"`
	LicenseKey        string `gorm:"size:64"`
	Source            string `gorm:"size:16;index"`
	DeviceID          string
	Hostname          string
	IPAddress         string `gorm:"size:64"`
	Reason            string `gorm:"size:64"`
	Detail            string
	StoredChecksum    string `gorm:"size:128"`
	PresentedChecksum string `gorm:"size:128"`
	DetectedAt        time.Time
}

func (securityIncidentRecord) TableName() string { return "security_incidents" }

type settingRecord struct {
	Key       string `gorm:"column:setting_key;primaryKey;size:191"`
	Value     string
	UpdatedAt time.Time
}

func (settingRecord) TableName() string { return "app_settings" }

// OpenSQL opens the relational License Store and migrates its schema.
func OpenSQL(cfg SQLConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", cfg.Driver)
	}

	lvl := gormlogger.Silent
	if cfg.LogSQL {
		lvl = gormlogger.Info
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.New(
			logger.Default().StandardLog(charmlog.StandardLogOptions{ForceLevel: charmlog.DebugLevel}),
			gormlogger.Config{
				SlowThreshold:             200 * time.Millisecond,
				LogLevel:                  lvl,
				IgnoreRecordNotFoundError: true,
				Colorful:                  false,
			},
		),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&licenseRecord{},
		&deviceRecord{},
		&verificationLogRecord{},
		&securityIncidentRecord{},
		&settingRecord{},
	); err != nil {
		return fmt.Errorf("failed to migrate license store: %w", err)
	}
	return nil
}
