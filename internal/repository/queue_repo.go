package repository

import (
	"context"
	"errors"

	"github.com/kursadbilgin/sync-engine/internal/domain"
	"gorm.io/gorm"
)

type QueueRepository interface {
	Enqueue(ctx context.Context, r *domain.QueuedRequest) error
	ListInOrder(ctx context.Context) ([]domain.QueuedRequest, error)
	Get(ctx context.Context, id string) (*domain.QueuedRequest, error)
	Delete(ctx context.Context, id string) error
	IncrementAttempts(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

type GormQueueRepo struct {
	db *gorm.DB
}

func NewGormQueueRepo(db *gorm.DB) *GormQueueRepo {
	return &GormQueueRepo{db: db}
}

func (r *GormQueueRepo) Enqueue(ctx context.Context, req *domain.QueuedRequest) error {
	model := queuedRequestModelFromDomain(req)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	if req != nil {
		*req = *queuedRequestModelToDomain(model)
	}
	return nil
}

func (r *GormQueueRepo) ListInOrder(ctx context.Context) ([]domain.QueuedRequest, error) {
	var models []QueuedRequestModel
	err := r.db.WithContext(ctx).
		Order("seq ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	requests := make([]domain.QueuedRequest, 0, len(models))
	for i := range models {
		requests = append(requests, *queuedRequestModelToDomain(&models[i]))
	}

	return requests, nil
}

func (r *GormQueueRepo) Get(ctx context.Context, id string) (*domain.QueuedRequest, error) {
	var model QueuedRequestModel
	err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return queuedRequestModelToDomain(&model), nil
}

func (r *GormQueueRepo) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&QueuedRequestModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) IncrementAttempts(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).
		Model(&QueuedRequestModel{}).
		Where("id = ?", id).
		Update("attempts", gorm.Expr("attempts + 1"))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *GormQueueRepo) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&QueuedRequestModel{}).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return count, nil
}
