package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type DeviceRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Device, error)
	Put(ctx context.Context, d *domain.Device) error
	TouchActivity(ctx context.Context, id string, at time.Time) error
	SetLastSync(ctx context.Context, id string, at time.Time) error
	ListByLastActive(ctx context.Context) ([]domain.Device, error)
}

type GormDeviceRepo struct {
	db *gorm.DB
}

func NewGormDeviceRepo(db *gorm.DB) *GormDeviceRepo {
	return &GormDeviceRepo{db: db}
}

func (r *GormDeviceRepo) GetByID(ctx context.Context, id string) (*domain.Device, error) {
	var model DeviceModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return deviceModelToDomain(&model), nil
}

// Put upserts the full device record by id.
func (r *GormDeviceRepo) Put(ctx context.Context, d *domain.Device) error {
	model := deviceModelFromDomain(d)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

func (r *GormDeviceRepo) TouchActivity(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeviceModel{}).
		Where("id = ?", id).
		Update("last_active", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeviceRepo) SetLastSync(ctx context.Context, id string, at time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&DeviceModel{}).
		Where("id = ?", id).
		Update("last_sync", at)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormDeviceRepo) ListByLastActive(ctx context.Context) ([]domain.Device, error) {
	var models []DeviceModel
	err := r.db.WithContext(ctx).
		Order("last_active DESC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	devices := make([]domain.Device, 0, len(models))
	for i := range models {
		devices = append(devices, *deviceModelToDomain(&models[i]))
	}

	return devices, nil
}
