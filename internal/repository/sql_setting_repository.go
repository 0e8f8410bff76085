package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type sqlSettingRepository struct {
	db *gorm.DB
}

func NewSQLSettingRepository(db *gorm.DB) SettingRepository {
	return &sqlSettingRepository{db: db}
}

func (r *sqlSettingRepository) Get(ctx context.Context, key string) (string, error) {
	var rec settingRecord
	if err := r.db.WithContext(ctx).First(&rec, "setting_key = ?", key).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrSettingNotFound
		}
		return "", fmt.Errorf("failed to get setting: %w", err)
	}
	return rec.Value, nil
}

func (r *sqlSettingRepository) Set(ctx context.Context, key, value string) error {
	rec := settingRecord{Key: key, Value: value, UpdatedAt: time.Now()}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("failed to save setting: %w", err)
	}
	return nil
}
