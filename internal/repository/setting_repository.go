package repository

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-kivik/kivik/v4"
)

// SettingRepository stores small server-side key/value state such as
// integrity baselines.
type SettingRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
}

type settingRepository struct {
	db *kivik.DB
}

type settingDoc struct {
	ID        string    `json:"_id"`
	Rev       string    `json:"_rev,omitempty"`
	DocType   string    `json:"doc_type"`
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewSettingRepository(client *kivik.Client, dbName string) SettingRepository {
	return &settingRepository{
		db: client.DB(dbName),
	}
}

func (r *settingRepository) Get(ctx context.Context, key string) (string, error) {
	row := r.db.Get(ctx, fmt.Sprintf("setting:%s", key))

	var doc settingDoc
	if err := row.ScanDoc(&doc); err != nil {
		if kivik.HTTPStatus(err) == http.StatusNotFound {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}

	return doc.Value, nil
}

func (r *settingRepository) Set(ctx context.Context, key, value string) error {
	docID := fmt.Sprintf("setting:%s", key)

	var doc settingDoc
	row := r.db.Get(ctx, docID)
	if err := row.ScanDoc(&doc); err != nil && kivik.HTTPStatus(err) != http.StatusNotFound {
		return fmt.Errorf("failed to load setting: %w", err)
	}

	doc.ID = docID
	doc.DocType = "setting"
	doc.Key = key
	doc.Value = value
	doc.UpdatedAt = time.Now()

	if _, err := r.db.Put(ctx, docID, doc); err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}

	return nil
}
