package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
)

// targetBatchSize caps the OR list of one batched target lookup. Oversized
// OR lists blow past the database sort buffer on large projects.
const targetBatchSize = 50

var activeStatuses = []domain.TaskStatus{domain.StatusQueued, domain.StatusProcessing}

type taskRepository struct {
	db *gorm.DB
}

// NewTaskRepository creates a new instance of TaskRepository
func NewTaskRepository(db *gorm.DB) ports.TaskRepository {
	return &taskRepository{db: db}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func (r *taskRepository) Create(ctx context.Context, task *domain.Task) error {
	return r.db.WithContext(ctx).Create(task).Error
}

func (r *taskRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) FindLatestByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Where("dedupe_key = ?", dedupeKey).
		Order("created_at DESC").
		First(&task).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &task, nil
}

func (r *taskRepository) Find(ctx context.Context, filter ports.TaskFilter) ([]domain.Task, error) {
	limit := filter.Limit
	if limit < 1 {
		limit = ports.DefaultQueryLimit
	}
	if limit > ports.MaxQueryLimit {
		limit = ports.MaxQueryLimit
	}

	query := r.db.WithContext(ctx).Model(&domain.Task{})
	if filter.ProjectID != "" {
		query = query.Where("project_id = ?", filter.ProjectID)
	}
	if filter.TargetType != "" {
		query = query.Where("target_type = ?", filter.TargetType)
	}
	if filter.TargetID != "" {
		query = query.Where("target_id = ?", filter.TargetID)
	}
	if len(filter.Status) > 0 {
		query = query.Where("status IN ?", filter.Status)
	}
	if len(filter.Types) > 0 {
		query = query.Where("type IN ?", filter.Types)
	}

	var tasks []domain.Task
	err := query.Order("created_at DESC").Limit(limit).Find(&tasks).Error
	return tasks, err
}

func (r *taskRepository) FindForTargets(ctx context.Context, projectID, userID string, pairs []ports.TargetPair) ([]domain.Task, error) {
	var all []domain.Task

	for start := 0; start < len(pairs); start += targetBatchSize {
		end := start + targetBatchSize
		if end > len(pairs) {
			end = len(pairs)
		}
		batch := pairs[start:end]

		pairCond := r.db.Where("target_type = ? AND target_id = ?", batch[0].TargetType, batch[0].TargetID)
		for _, pair := range batch[1:] {
			pairCond = pairCond.Or("target_type = ? AND target_id = ?", pair.TargetType, pair.TargetID)
		}

		query := r.db.WithContext(ctx).
			Where("project_id = ? AND user_id = ?", projectID, userID).
			Where("status <> ?", domain.StatusDismissed).
			Where(pairCond)

		var tasks []domain.Task
		if err := query.Find(&tasks).Error; err != nil {
			return nil, err
		}
		all = append(all, tasks...)
	}

	return all, nil
}

func (r *taskRepository) ReleaseDedupeKey(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status IN ? AND dedupe_key IS NOT NULL", id,
			[]domain.TaskStatus{domain.StatusCompleted, domain.StatusFailed, domain.StatusDismissed}).
		Update("dedupe_key", nil)
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now()
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusQueued).
		Updates(map[string]interface{}{
			"status":       domain.StatusProcessing,
			"started_at":   now,
			"heartbeat_at": now,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) UpdateProgress(ctx context.Context, id uuid.UUID, progress int, payload datatypes.JSON) (bool, error) {
	patch := map[string]interface{}{
		"progress": progress,
	}
	if payload != nil {
		patch["payload"] = payload
	}
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(patch)
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) TouchHeartbeat(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Update("heartbeat_at", time.Now())
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) MarkCompleted(ctx context.Context, id uuid.UUID, taskResult datatypes.JSON) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.StatusCompleted,
			"progress":     100,
			"result":       taskResult,
			"finished_at":  time.Now(),
			"heartbeat_at": nil,
			"dedupe_key":   nil,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status IN ?", id, activeStatuses).
		Updates(map[string]interface{}{
			"status":        domain.StatusFailed,
			"error_code":    truncate(errorCode, 80),
			"error_message": truncate(errorMessage, 2000),
			"finished_at":   time.Now(),
			"heartbeat_at":  nil,
			"dedupe_key":    nil,
		})
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) DismissFailed(ctx context.Context, ids []uuid.UUID, userID string) ([]domain.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var candidates []domain.Task
	err := r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ? AND status = ?", ids, userID, domain.StatusFailed).
		Find(&candidates).Error
	if err != nil || len(candidates) == 0 {
		return nil, err
	}

	candidateIDs := make([]uuid.UUID, 0, len(candidates))
	for _, task := range candidates {
		candidateIDs = append(candidateIDs, task.ID)
	}

	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id IN ? AND user_id = ? AND status = ?", candidateIDs, userID, domain.StatusFailed).
		Updates(map[string]interface{}{
			"status":       domain.StatusDismissed,
			"finished_at":  time.Now(),
			"heartbeat_at": nil,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, nil
	}

	var dismissed []domain.Task
	err = r.db.WithContext(ctx).
		Where("id IN ? AND user_id = ? AND status = ?", candidateIDs, userID, domain.StatusDismissed).
		Find(&dismissed).Error
	return dismissed, err
}

func (r *taskRepository) MarkEnqueued(ctx context.Context, id uuid.UUID) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusQueued).
		Update("last_enqueue_error", "")
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) MarkEnqueueFailed(ctx context.Context, id uuid.UUID, enqueueError string) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", id, domain.StatusQueued).
		Updates(map[string]interface{}{
			"enqueue_attempts":   gorm.Expr("enqueue_attempts + 1"),
			"last_enqueue_error": truncate(enqueueError, 500),
		})
	return result.RowsAffected > 0, result.Error
}

func (r *taskRepository) ResetProcessingToQueued(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("status = ?", domain.StatusProcessing).
		Updates(map[string]interface{}{
			"status":       domain.StatusQueued,
			"started_at":   nil,
			"heartbeat_at": nil,
		})
	return result.RowsAffected, result.Error
}

func (r *taskRepository) FindStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.Task, error) {
	if limit < 1 {
		limit = 200
	}
	var tasks []domain.Task
	err := r.db.WithContext(ctx).
		Where("status = ?", domain.StatusProcessing).
		Where(
			r.db.Where("heartbeat_at < ?", before).
				Or("heartbeat_at IS NULL AND started_at < ?", before).
				Or("heartbeat_at IS NULL AND started_at IS NULL AND updated_at < ?", before),
		).
		Order("updated_at ASC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}
