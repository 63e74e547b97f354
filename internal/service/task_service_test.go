package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/apperrors"
	"storyreel/internal/domain"
)

func (h *harness) submitAndClaim(t *testing.T, key string) *domain.Task {
	t.Helper()
	ctx := context.Background()
	result, err := h.submitter.SubmitTask(ctx, submitInput(key))
	require.NoError(t, err)
	ok, err := h.svc.MarkTaskProcessing(ctx, result.Task.ID)
	require.NoError(t, err)
	require.True(t, ok)
	return result.Task
}

func TestLifecycleHappyPath(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	task := h.submitAndClaim(t, "lifecycle-key")

	ok, err := h.svc.UpdateTaskProgress(ctx, task.ID, 60, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.svc.CompleteTask(ctx, task.ID, []byte(`{"scriptId":"s1"}`))
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, loaded.Status)

	// created, started, progress, completed in order
	events, err := h.events.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, events, 4)
	assert.Equal(t, domain.EventCreated, events[0].Type)
	assert.Equal(t, domain.EventStarted, events[1].Type)
	assert.Equal(t, domain.EventProgress, events[2].Type)
	assert.Equal(t, domain.EventCompleted, events[3].Type)
}

func TestProgressClampsToRange(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	task := h.submitAndClaim(t, "clamp-key")

	ok, err := h.svc.UpdateTaskProgress(ctx, task.ID, 250, nil)
	require.NoError(t, err)
	require.True(t, ok)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, loaded.Progress)
}

func TestDeniedTransitionIsNoOp(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	task := h.submitAndClaim(t, "denied-key")
	ok, err := h.svc.CompleteTask(ctx, task.ID, nil)
	require.NoError(t, err)
	require.True(t, ok)

	// completing again, failing, or cancelling all bounce off
	ok, err = h.svc.CompleteTask(ctx, task.ID, nil)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.svc.FailTask(ctx, task.ID, "INTERNAL_ERROR", "late failure")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = h.svc.CancelTask(ctx, task.ID, "too late")
	require.NoError(t, err)
	assert.False(t, ok)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, loaded.Status)
	assert.Empty(t, loaded.ErrorCode)
}

func TestCancelActiveTask(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	result, err := h.submitter.SubmitTask(ctx, submitInput("cancel-key"))
	require.NoError(t, err)

	ok, err := h.svc.CancelTask(ctx, result.Task.ID, "")
	require.NoError(t, err)
	assert.True(t, ok)

	loaded, err := h.tasks.FindByID(ctx, result.Task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Equal(t, apperrors.CodeTaskCancelled, loaded.ErrorCode)
}

func TestDismissBatchValidation(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	_, err := h.svc.DismissFailedTasksWithDetails(ctx, "user-1", nil)
	assert.True(t, apperrors.IsInvalidParams(err))

	oversized := make([]string, 201)
	for i := range oversized {
		oversized[i] = uuid.New().String()
	}
	_, err = h.svc.DismissFailedTasksWithDetails(ctx, "user-1", oversized)
	assert.True(t, apperrors.IsInvalidParams(err))

	_, err = h.svc.DismissFailedTasksWithDetails(ctx, "user-1", []string{"not-a-uuid"})
	assert.True(t, apperrors.IsInvalidParams(err))
}

func TestDismissFailedPublishesEvents(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	task := h.submitAndClaim(t, "dismiss-key")
	ok, err := h.svc.FailTask(ctx, task.ID, "INTERNAL_ERROR", "boom")
	require.NoError(t, err)
	require.True(t, ok)

	// duplicate ids collapse; unknown ids are skipped
	dismissed, err := h.svc.DismissFailedTasksWithDetails(ctx, "user-1", []string{
		task.ID.String(), task.ID.String(), uuid.New().String(),
	})
	require.NoError(t, err)
	require.Len(t, dismissed, 1)
	assert.Equal(t, domain.StatusDismissed, dismissed[0].Status)

	events, err := h.events.ListByTask(ctx, task.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, domain.EventDismissed, last.Type)
}

func TestSweepStaleTasks(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	task := h.submitAndClaim(t, "stale-key")
	// a heartbeat in the future keeps a second task alive
	fresh := h.submitAndClaim(t, "fresh-key")

	// age the first task past the watchdog window
	time.Sleep(20 * time.Millisecond)
	_, err := h.svc.TouchHeartbeat(ctx, fresh.ID)
	require.NoError(t, err)

	swept, err := h.svc.SweepStaleTasks(ctx, 15*time.Millisecond, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, swept)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Equal(t, apperrors.CodeWatchdogTimeout, loaded.ErrorCode)

	loaded, err = h.tasks.FindByID(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, loaded.Status)
}

func TestResetProcessingOnStartup(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	h.submitAndClaim(t, "orphan-1")
	h.submitAndClaim(t, "orphan-2")

	reset, err := h.svc.ResetProcessingOnStartup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), reset)
}

func TestQueryTasksClampsLimit(t *testing.T) {
	h := setupHarness(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := h.submitter.SubmitTask(ctx, submitInput(fmt.Sprintf("list-key-%d", i)))
		require.NoError(t, err)
	}

	tasks, err := h.svc.QueryTasks(ctx, portsFilter("project-1", 0))
	require.NoError(t, err)
	assert.Len(t, tasks, 5)

	tasks, err = h.svc.QueryTasks(ctx, portsFilter("project-1", 2))
	require.NoError(t, err)
	assert.Len(t, tasks, 2)
}
