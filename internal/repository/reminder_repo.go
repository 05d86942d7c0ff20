package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ReminderRepository interface {
	Upsert(ctx context.Context, r *domain.ScheduledReminder) error
	Get(ctx context.Context, itemID string) (*domain.ScheduledReminder, error)
	Delete(ctx context.Context, itemID string) error
	ListAll(ctx context.Context) ([]domain.ScheduledReminder, error)
	ListDue(ctx context.Context, before time.Time) ([]domain.ScheduledReminder, error)
}

type GormReminderRepo struct {
	db *gorm.DB
}

func NewGormReminderRepo(db *gorm.DB) *GormReminderRepo {
	return &GormReminderRepo{db: db}
}

// Upsert replaces any existing reminder for the same item (last write wins).
func (r *GormReminderRepo) Upsert(ctx context.Context, reminder *domain.ScheduledReminder) error {
	model := reminderModelFromDomain(reminder)
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "item_id"}},
			UpdateAll: true,
		}).
		Create(model).Error
}

func (r *GormReminderRepo) Get(ctx context.Context, itemID string) (*domain.ScheduledReminder, error) {
	var model ScheduledReminderModel
	err := r.db.WithContext(ctx).First(&model, "item_id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return reminderModelToDomain(&model), nil
}

func (r *GormReminderRepo) Delete(ctx context.Context, itemID string) error {
	result := r.db.WithContext(ctx).
		Where("item_id = ?", itemID).
		Delete(&ScheduledReminderModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormReminderRepo) ListAll(ctx context.Context) ([]domain.ScheduledReminder, error) {
	var models []ScheduledReminderModel
	err := r.db.WithContext(ctx).
		Order("due_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	reminders := make([]domain.ScheduledReminder, 0, len(models))
	for i := range models {
		reminders = append(reminders, *reminderModelToDomain(&models[i]))
	}

	return reminders, nil
}

func (r *GormReminderRepo) ListDue(ctx context.Context, before time.Time) ([]domain.ScheduledReminder, error) {
	var models []ScheduledReminderModel
	err := r.db.WithContext(ctx).
		Where("due_at <= ?", before).
		Order("due_at ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	reminders := make([]domain.ScheduledReminder, 0, len(models))
	for i := range models {
		reminders = append(reminders, *reminderModelToDomain(&models[i]))
	}

	return reminders, nil
}
