package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Fixed settings keys.
const (
	SettingDeviceID     = "deviceId"
	SettingLastSyncTime = "lastSyncTime"
)

type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
}

type GormSettingsRepo struct {
	db *gorm.DB
}

func NewGormSettingsRepo(db *gorm.DB) *GormSettingsRepo {
	return &GormSettingsRepo{db: db}
}

func (r *GormSettingsRepo) Get(ctx context.Context, key string) (string, error) {
	var model SettingModel
	err := r.db.WithContext(ctx).First(&model, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", domain.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return model.Value, nil
}

func (r *GormSettingsRepo) Set(ctx context.Context, key string, value string) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).
		Create(&SettingModel{Key: key, Value: value}).Error
}
