package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storyreel/internal/core/ports"
	"storyreel/internal/core/postgres/repository"
	"storyreel/internal/domain"
	"storyreel/internal/service"
)

// chanQueue feeds the worker from a buffered channel.
type chanQueue struct {
	ch chan string
}

func (q *chanQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	q.ch <- taskID
	return nil
}

func (q *chanQueue) Dequeue(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case taskID := <-q.ch:
		return taskID, nil
	}
}

type noopBus struct{}

func (noopBus) Publish(ctx context.Context, event domain.TaskEventMessage) error { return nil }
func (noopBus) Subscribe(ctx context.Context, projectID string) (<-chan domain.TaskEventMessage, error) {
	ch := make(chan domain.TaskEventMessage)
	close(ch)
	return ch, nil
}

type workerHarness struct {
	tasks  ports.TaskRepository
	events ports.EventRepository
	queue  *chanQueue
	svc    *service.TaskService
}

func setupWorker(t *testing.T, registry TaskRegistry) (*Worker, *workerHarness) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Task{}, &domain.TaskEvent{}))

	tasks := repository.NewTaskRepository(db)
	events := repository.NewEventRepository(db)
	publisher := service.NewPublisher(events, noopBus{})
	svc := service.NewTaskService(tasks, publisher)
	queue := &chanQueue{ch: make(chan string, 16)}

	h := &workerHarness{tasks: tasks, events: events, queue: queue, svc: svc}
	return NewWorker(queue, tasks, svc, registry), h
}

func enqueueTask(t *testing.T, h *workerHarness, taskType domain.TaskType, payload map[string]any) *domain.Task {
	t.Helper()
	ctx := context.Background()
	task := domain.NewTask("user-1", "project-1", taskType, "novel", "novel-1")
	if payload != nil {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		task.Payload = raw
	}
	require.NoError(t, h.tasks.Create(ctx, task))
	require.NoError(t, h.queue.Enqueue(ctx, task.ID.String(), 0))
	return task
}

func TestWorkerCompletesTask(t *testing.T) {
	registry := TaskRegistry{
		domain.TypeAnalyzeNovel: func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error) {
			return map[string]any{"analysis": "done"}, nil
		},
	}
	w, h := setupWorker(t, registry)
	ctx := context.Background()

	task := enqueueTask(t, h, domain.TypeAnalyzeNovel, map[string]any{"novelId": "novel-1"})
	w.ProcessNextTask(ctx)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, loaded.Status)
	assert.Equal(t, 100, loaded.Progress)

	var result map[string]any
	require.NoError(t, json.Unmarshal(loaded.Result, &result))
	assert.Equal(t, "done", result["analysis"])
}

func TestWorkerFailsTaskOnHandlerError(t *testing.T) {
	registry := TaskRegistry{
		domain.TypeAnalyzeNovel: func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error) {
			return nil, errors.New("model exploded")
		},
	}
	w, h := setupWorker(t, registry)
	ctx := context.Background()

	task := enqueueTask(t, h, domain.TypeAnalyzeNovel, nil)
	w.ProcessNextTask(ctx)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Equal(t, "model exploded", loaded.ErrorMessage)
}

func TestWorkerFailsTaskWithoutHandler(t *testing.T) {
	w, h := setupWorker(t, TaskRegistry{})
	ctx := context.Background()

	task := enqueueTask(t, h, domain.TypeVoiceDesign, nil)
	w.ProcessNextTask(ctx)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Contains(t, loaded.ErrorMessage, "no handler registered")
}

func TestWorkerSkipsAlreadyClaimedTask(t *testing.T) {
	registry := TaskRegistry{
		domain.TypeAnalyzeNovel: func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error) {
			return nil, nil
		},
	}
	w, h := setupWorker(t, registry)
	ctx := context.Background()

	task := enqueueTask(t, h, domain.TypeAnalyzeNovel, nil)

	// another worker claims it first
	ok, err := h.tasks.MarkProcessing(ctx, task.ID)
	require.NoError(t, err)
	require.True(t, ok)

	w.ProcessNextTask(ctx)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusProcessing, loaded.Status, "the second worker backs off")
}

func TestLLMHandlersRejectBadRuntimeOptions(t *testing.T) {
	w, h := setupWorker(t, InitRegistry())
	ctx := context.Background()

	task := enqueueTask(t, h, domain.TypeAnalyzeNovel, map[string]any{
		"llmOptions": map[string]any{"reasoningEffort": "ultra"},
	})
	w.ProcessNextTask(ctx)

	loaded, err := h.tasks.FindByID(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, loaded.Status)
	assert.Contains(t, loaded.ErrorMessage, "reasoningEffort")
}

func TestInitRegistryCoversAllTaskTypes(t *testing.T) {
	registry := InitRegistry()
	for _, taskType := range []domain.TaskType{
		domain.TypeAnalyzeNovel, domain.TypeEpisodeSplitLLM,
		domain.TypeStoryToScriptRun, domain.TypeScriptToStoryboardRun,
		domain.TypeAICreateCharacter, domain.TypeAICreateLocation,
		domain.TypeGenerateCharacterImage, domain.TypeGenerateLocationImage,
		domain.TypeGeneratePanelImage, domain.TypeGeneratePanelVideo,
		domain.TypeVoiceDesign, domain.TypeVoiceLineSynthesis,
		domain.TypeAssetHubDesignChar, domain.TypeAssetHubDesignLocation,
	} {
		_, exists := registry[taskType]
		assert.True(t, exists, "missing handler for %s", taskType)
	}
}
