package repository

import (
	"context"
	"fmt"

	"github.com/kursadbilgin/satellite-dispatch/internal/domain"
	"gorm.io/gorm"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 500
)

type TransferEventRepository interface {
	Create(ctx context.Context, e *domain.TransferEvent) error
	ListBySubscription(ctx context.Context, subscriptionID int, limit int) ([]domain.TransferEvent, error)
}

type GormTransferEventRepo struct {
	db *gorm.DB
}

func NewGormTransferEventRepo(db *gorm.DB) *GormTransferEventRepo {
	return &GormTransferEventRepo{db: db}
}

func (r *GormTransferEventRepo) Create(ctx context.Context, e *domain.TransferEvent) error {
	if e == nil {
		return fmt.Errorf("%w: transfer event is required", domain.ErrValidation)
	}

	model := transferEventModelFromDomain(e)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return err
	}
	*e = *transferEventModelToDomain(model)
	return nil
}

// ListBySubscription returns the most recent events for a subscription, newest first.
func (r *GormTransferEventRepo) ListBySubscription(ctx context.Context, subscriptionID int, limit int) ([]domain.TransferEvent, error) {
	limit = clampLimit(limit)

	var models []TransferEventModel
	err := r.db.WithContext(ctx).
		Where("subscription_id = ?", subscriptionID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}

	events := make([]domain.TransferEvent, 0, len(models))
	for i := range models {
		events = append(events, *transferEventModelToDomain(&models[i]))
	}

	return events, nil
}

func clampLimit(limit int) int {
	if limit < 1 {
		return defaultEventLimit
	}
	return min(limit, maxEventLimit)
}
