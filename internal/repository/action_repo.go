package repository

import (
	"context"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
)

type ActionRepository interface {
	Create(ctx context.Context, a *domain.ActionRecord) error
	ListUnsynced(ctx context.Context) ([]domain.ActionRecord, error)
	MarkSynced(ctx context.Context, ids []int64) error
}

type GormActionRepo struct {
	db *gorm.DB
}

func NewGormActionRepo(db *gorm.DB) *GormActionRepo {
	return &GormActionRepo{db: db}
}

func (r *GormActionRepo) Create(ctx context.Context, a *domain.ActionRecord) error {
	model := actionModelFromDomain(a)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if a != nil {
		*a = *actionModelToDomain(model)
	}
	return nil
}

func (r *GormActionRepo) ListUnsynced(ctx context.Context) ([]domain.ActionRecord, error) {
	var models []ActionRecordModel
	err := r.db.WithContext(ctx).
		Where("synced = ?", false).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	actions := make([]domain.ActionRecord, 0, len(models))
	for i := range models {
		actions = append(actions, *actionModelToDomain(&models[i]))
	}

	return actions, nil
}

// MarkSynced flips synced false to true for the given rows. The flag never
// reverts; already-synced rows are left untouched.
func (r *GormActionRepo) MarkSynced(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	return r.db.WithContext(ctx).
		Model(&ActionRecordModel{}).
		Where("id IN ? AND synced = ?", ids, false).
		Update("synced", true).Error
}
