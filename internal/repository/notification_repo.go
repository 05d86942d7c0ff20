package repository

import (
	"context"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
)

type NotificationRepository interface {
	Record(ctx context.Context, n *domain.NotificationEntry) error
	ListRecent(ctx context.Context, limit int) ([]domain.NotificationEntry, error)
}

type GormNotificationRepo struct {
	db *gorm.DB
}

func NewGormNotificationRepo(db *gorm.DB) *GormNotificationRepo {
	return &GormNotificationRepo{db: db}
}

func (r *GormNotificationRepo) Record(ctx context.Context, n *domain.NotificationEntry) error {
	model := notificationEntryModelFromDomain(n)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if n != nil {
		*n = *notificationEntryModelToDomain(model)
	}
	return nil
}

func (r *GormNotificationRepo) ListRecent(ctx context.Context, limit int) ([]domain.NotificationEntry, error) {
	if limit < 1 {
		limit = 50
	}

	var models []NotificationEntryModel
	err := r.db.WithContext(ctx).
		Order("timestamp DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	entries := make([]domain.NotificationEntry, 0, len(models))
	for i := range models {
		entries = append(entries, *notificationEntryModelToDomain(&models[i]))
	}

	return entries, nil
}
