package repository

import (
	"context"
	"fmt"

	"ampos-license-server/internal/domain"

	"github.com/go-kivik/kivik/v4"
	"github.com/google/uuid"
)

// AuditRepository is append-only.
type AuditRepository interface {
	AppendVerification(ctx context.Context, entry *domain.VerificationLogEntry) error
	AppendIncident(ctx context.Context, incident *domain.SecurityIncident) error
}

type auditRepository struct {
	db *kivik.DB
}

type verificationDoc struct {
	ID      string `json:"_id"`
	DocType string `json:"doc_type"`
	*domain.VerificationLogEntry
}

type incidentDoc struct {
	ID      string `json:"_id"`
	DocType string `json:"doc_type"`
	*domain.SecurityIncident
}

func NewAuditRepository(client *kivik.Client, dbName string) AuditRepository {
	return &auditRepository{
		db: client.DB(dbName),
	}
}

func (r *auditRepository) AppendVerification(ctx context.Context, entry *domain.VerificationLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	doc := verificationDoc{
		ID:                   fmt.Sprintf("verification:%s", entry.ID),
		DocType:              "verification_log",
		VerificationLogEntry: entry,
	}

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to append verification log: %w", err)
	}

	return nil
}

func (r *auditRepository) AppendIncident(ctx context.Context, incident *domain.SecurityIncident) error {
	if incident.ID == "" {
		incident.ID = uuid.New().String()
	}

	doc := incidentDoc{
		ID:               fmt.Sprintf("incident:%s", incident.ID),
		DocType:          "security_incident",
		SecurityIncident: incident,
	}

	if _, err := r.db.Put(ctx, doc.ID, doc); err != nil {
		return fmt.Errorf("failed to append security incident: %w", err)
	}

	return nil
}
