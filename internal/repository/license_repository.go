package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"ampos-license-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
)

// LicenseRepository is the License Store as seen by the verification core.
// Update is optimistic: it fails with ErrRevisionConflict when the license
// changed since it was read, and refreshes license.Revision on success.
type LicenseRepository interface {
	FindByKey(ctx context.Context, key string) (*domain.License, error)
	Create(ctx context.Context, license *domain.License) error
	Update(ctx context.Context, license *domain.License) error
}

type licenseRepository struct {
	db *kivik.DB
}

type licenseDoc struct {
	ID                  string          `json:"_id"`
	Rev                 string          `json:"_rev,omitempty"`
	DocType             string          `json:"doc_type"`
	LicenseID           string          `json:"license_id"`
	Key                 string          `json:"license_key"`
	Status              string          `json:"status"`
	ProductName         string          `json:"product_name"`
	Tier                string          `json:"tier"`
	CustomerName        string          `json:"customer_name"`
	CustomerEmail       string          `json:"customer_email"`
	IssuedAt            time.Time       `json:"issued_at"`
	ExpiresAt           time.Time       `json:"expires_at"`
	MaxDevices          int             `json:"max_devices"`
	CurrentDevices      int             `json:"current_devices"`
	LastCheckIn         *time.Time      `json:"last_check_in,omitempty"`
	BoundInstallationID string          `json:"bound_installation_id,omitempty"`
	CodeChecksum        string          `json:"code_checksum,omitempty"`
	SuspensionReason    string          `json:"suspension_reason,omitempty"`
	LastActiveAt        *time.Time      `json:"last_active_at,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Devices             []domain.Device `json:"devices"`
}

func NewLicenseRepository(client *kivik.Client, dbName string) LicenseRepository {
	return &licenseRepository{
		db: client.DB(dbName),
	}
}

func licenseDocID(key string) string {
	return fmt.Sprintf("license:%s", key)
}

func (r *licenseRepository) FindByKey(ctx context.Context, key string) (*domain.License, error) {
	row := r.db.Get(ctx, licenseDocID(key))

	var doc licenseDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return nil, ErrLicenseNotFound
		}
		return nil, fmt.Errorf("failed to find license: %w", err)
	}

	return docToLicense(&doc), nil
}

func (r *licenseRepository) Create(ctx context.Context, license *domain.License) error {
	doc := licenseToDoc(license)
	doc.Rev = ""

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrLicenseExists
		}
		return fmt.Errorf("failed to create license: %w", err)
	}

	license.Revision = rev
	return nil
}

func (r *licenseRepository) Update(ctx context.Context, license *domain.License) error {
	doc := licenseToDoc(license)

	rev, err := r.db.Put(ctx, doc.ID, doc)
	if err != nil {
		if kivik.HTTPStatus(err) == http.StatusConflict {
			return ErrRevisionConflict
		}
		return fmt.Errorf("failed to update license: %w", err)
	}

	license.Revision = rev
	return nil
}

// licenseToDoc embeds the device ledger in the license document so a
// single revision covers status, check-in and device count together.
func licenseToDoc(l *domain.License) *licenseDoc {
	devices := l.Devices
	if devices == nil {
		devices = []domain.Device{}
	}

	return &licenseDoc{
		ID:                  licenseDocID(l.Key),
		Rev:                 l.Revision,
		DocType:             "license",
		LicenseID:           l.ID,
		Key:                 l.Key,
		Status:              string(l.Status),
		ProductName:         l.ProductName,
		Tier:                l.Tier,
		CustomerName:        l.CustomerName,
		CustomerEmail:       l.CustomerEmail,
		IssuedAt:            l.IssuedAt,
		ExpiresAt:           l.ExpiresAt,
		MaxDevices:          l.MaxDevices,
		CurrentDevices:      len(devices),
		LastCheckIn:         l.LastCheckIn,
		BoundInstallationID: l.BoundInstallationID,
		CodeChecksum:        l.CodeChecksum,
		SuspensionReason:    l.SuspensionReason,
		LastActiveAt:        l.LastActiveAt,
		UpdatedAt:           l.UpdatedAt,
		Devices:             devices,
	}
}

func docToLicense(doc *licenseDoc) *domain.License {
	return &domain.License{
		ID:                  doc.LicenseID,
		Key:                 doc.Key,
		Status:              domain.LicenseStatus(doc.Status),
		ProductName:         doc.ProductName,
		Tier:                doc.Tier,
		CustomerName:        doc.CustomerName,
		CustomerEmail:       doc.CustomerEmail,
		IssuedAt:            doc.IssuedAt,
		ExpiresAt:           doc.ExpiresAt,
		MaxDevices:          doc.MaxDevices,
		CurrentDevices:      len(doc.Devices),
		LastCheckIn:         doc.LastCheckIn,
		BoundInstallationID: doc.BoundInstallationID,
		CodeChecksum:        doc.CodeChecksum,
		SuspensionReason:    doc.SuspensionReason,
		LastActiveAt:        doc.LastActiveAt,
		UpdatedAt:           doc.UpdatedAt,
		Devices:             doc.Devices,
		Revision:            doc.Rev,
	}
}
