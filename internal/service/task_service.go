package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"storyreel/internal/apperrors"
	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
	"storyreel/internal/metrics"
)

// maxDismissBatch bounds one dismiss call. Larger batches are rejected,
// not truncated, so the caller knows to split.
const maxDismissBatch = 200

// TaskService drives the task lifecycle. Transitions that do not meet
// their precondition are recorded as denied and otherwise ignored; they
// never clobber a terminal row.
type TaskService struct {
	tasks     ports.TaskRepository
	publisher *Publisher
}

func NewTaskService(tasks ports.TaskRepository, publisher *Publisher) *TaskService {
	return &TaskService{tasks: tasks, publisher: publisher}
}

func (s *TaskService) GetTask(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	return s.tasks.FindByID(ctx, id)
}

func (s *TaskService) QueryTasks(ctx context.Context, filter ports.TaskFilter) ([]domain.Task, error) {
	if filter.Limit <= 0 {
		filter.Limit = ports.DefaultQueryLimit
	}
	if filter.Limit > ports.MaxQueryLimit {
		filter.Limit = ports.MaxQueryLimit
	}
	return s.tasks.Find(ctx, filter)
}

// denied records a transition that did not happen. The row is re-read so
// the reason label carries the status that blocked it.
func (s *TaskService) denied(ctx context.Context, source string, id uuid.UUID) {
	reason := "not_found"
	if task, err := s.tasks.FindByID(ctx, id); err == nil && task != nil {
		reason = "from_" + string(task.Status)
	}
	metrics.TransitionsDenied.WithLabelValues(source, reason).Inc()
	log.Printf("task: transition %s denied for %s (%s)", source, id, reason)
}

// MarkTaskProcessing claims a queued task for execution. Returns false
// when someone else already claimed it or it is no longer queued.
func (s *TaskService) MarkTaskProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.tasks.MarkProcessing(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		s.denied(ctx, "mark_processing", id)
		return false, nil
	}
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil || task == nil {
		return true, err
	}
	if pubErr := s.publisher.Publish(ctx, task, domain.EventStarted, nil); pubErr != nil {
		log.Printf("task: started event append failed for %s: %v", id, pubErr)
	}
	return true, nil
}

// UpdateTaskProgress moves the progress needle on a processing task and
// refreshes the heartbeat implicitly. Progress is clamped to [0,100].
func (s *TaskService) UpdateTaskProgress(ctx context.Context, id uuid.UUID, progress int, payload datatypes.JSON) (bool, error) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	ok, err := s.tasks.UpdateProgress(ctx, id, progress, payload)
	if err != nil {
		return false, err
	}
	if !ok {
		s.denied(ctx, "update_progress", id)
		return false, nil
	}
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil || task == nil {
		return true, err
	}
	if pubErr := s.publisher.Publish(ctx, task, domain.EventProgress, map[string]any{
		"progress": progress,
	}); pubErr != nil {
		log.Printf("task: progress event append failed for %s: %v", id, pubErr)
	}
	return true, nil
}

func (s *TaskService) TouchHeartbeat(ctx context.Context, id uuid.UUID) (bool, error) {
	ok, err := s.tasks.TouchHeartbeat(ctx, id)
	if err != nil {
		return false, err
	}
	if !ok {
		s.denied(ctx, "heartbeat", id)
	}
	return ok, nil
}

// CompleteTask finishes a processing task with its result. Only the
// processing status admits completion; a watchdog-failed task stays failed.
func (s *TaskService) CompleteTask(ctx context.Context, id uuid.UUID, result datatypes.JSON) (bool, error) {
	ok, err := s.tasks.MarkCompleted(ctx, id, result)
	if err != nil {
		return false, err
	}
	if !ok {
		s.denied(ctx, "complete", id)
		return false, nil
	}
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil || task == nil {
		return true, err
	}
	if pubErr := s.publisher.Publish(ctx, task, domain.EventCompleted, map[string]any{
		"progress": 100,
	}); pubErr != nil {
		log.Printf("task: completed event append failed for %s: %v", id, pubErr)
	}
	s.publisher.CheckTerminalConsistency(ctx, task)
	return true, nil
}

// FailTask fails an active task with a stable error code and message.
func (s *TaskService) FailTask(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (bool, error) {
	ok, err := s.tasks.MarkFailed(ctx, id, errorCode, errorMessage)
	if err != nil {
		return false, err
	}
	if !ok {
		s.denied(ctx, "fail", id)
		return false, nil
	}
	task, err := s.tasks.FindByID(ctx, id)
	if err != nil || task == nil {
		return true, err
	}
	if pubErr := s.publisher.Publish(ctx, task, domain.EventFailed, map[string]any{
		"errorCode": errorCode,
		"message":   errorMessage,
	}); pubErr != nil {
		log.Printf("task: failed event append failed for %s: %v", id, pubErr)
	}
	s.publisher.CheckTerminalConsistency(ctx, task)
	return true, nil
}

// CancelTask fails an active task with TASK_CANCELLED. A finished task
// cannot be cancelled; that is a denied transition, not an error.
func (s *TaskService) CancelTask(ctx context.Context, id uuid.UUID, reason string) (bool, error) {
	if strings.TrimSpace(reason) == "" {
		reason = "cancelled by user"
	}
	return s.FailTask(ctx, id, apperrors.CodeTaskCancelled, reason)
}

// DismissFailedTasksWithDetails moves failed tasks owned by userID to
// dismissed and returns the rows that actually transitioned. IDs pointing
// at missing, foreign, or non-failed tasks are skipped silently.
func (s *TaskService) DismissFailedTasksWithDetails(ctx context.Context, userID string, rawIDs []string) ([]domain.Task, error) {
	if len(rawIDs) == 0 {
		return nil, apperrors.InvalidParams("taskIds must be a non-empty array")
	}
	if len(rawIDs) > maxDismissBatch {
		return nil, apperrors.InvalidParams("taskIds exceeds the batch limit of 200")
	}

	seen := make(map[uuid.UUID]struct{}, len(rawIDs))
	ids := make([]uuid.UUID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		id, err := uuid.Parse(trimmed)
		if err != nil {
			return nil, apperrors.InvalidParams("taskIds contains a malformed id: " + trimmed)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, apperrors.InvalidParams("taskIds must contain at least one id")
	}

	dismissed, err := s.tasks.DismissFailed(ctx, ids, userID)
	if err != nil {
		return nil, err
	}
	for i := range dismissed {
		task := &dismissed[i]
		if pubErr := s.publisher.Publish(ctx, task, domain.EventDismissed, nil); pubErr != nil {
			log.Printf("task: dismissed event append failed for %s: %v", task.ID, pubErr)
		}
		s.publisher.CheckTerminalConsistency(ctx, task)
	}
	if len(dismissed) < len(ids) {
		metrics.TransitionsDenied.WithLabelValues("dismiss", "skipped").Add(float64(len(ids) - len(dismissed)))
	}
	return dismissed, nil
}

// SweepStaleTasks fails processing tasks whose heartbeat went silent for
// longer than staleAfter. Ran periodically by the reconciler.
func (s *TaskService) SweepStaleTasks(ctx context.Context, staleAfter time.Duration, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	cutoff := time.Now().Add(-staleAfter)
	stale, err := s.tasks.FindStaleProcessing(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}
	swept := 0
	for i := range stale {
		task := &stale[i]
		ok, err := s.FailTask(ctx, task.ID, apperrors.CodeWatchdogTimeout, "no heartbeat within watchdog window")
		if err != nil {
			log.Printf("task: sweeping stale task %s failed: %v", task.ID, err)
			continue
		}
		if ok {
			swept++
		}
	}
	if swept > 0 {
		log.Printf("task: swept %d stale processing tasks", swept)
	}
	return swept, nil
}

// ResetProcessingOnStartup requeues tasks orphaned in processing by a
// previous crash. Called once before the worker pool starts.
func (s *TaskService) ResetProcessingOnStartup(ctx context.Context) (int64, error) {
	reset, err := s.tasks.ResetProcessingToQueued(ctx)
	if err != nil {
		return 0, err
	}
	if reset > 0 {
		log.Printf("task: reset %d processing tasks to queued on startup", reset)
	}
	return reset, nil
}
