package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
)

type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new instance of EventRepository
func NewEventRepository(db *gorm.DB) ports.EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *domain.TaskEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.TaskEvent, error) {
	var events []domain.TaskEvent
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}
