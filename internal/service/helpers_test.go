package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"storyreel/internal/core/ports"
	"storyreel/internal/core/postgres/repository"
	"storyreel/internal/domain"
)

// fakeQueue records enqueues in memory. Set failNext to simulate a broker
// outage on the next Enqueue.
type fakeQueue struct {
	mu       sync.Mutex
	entries  []string
	failNext bool
}

func (q *fakeQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.failNext {
		q.failNext = false
		return errors.New("connection refused")
	}
	q.entries = append(q.entries, taskID)
	return nil
}

func (q *fakeQueue) Dequeue(ctx context.Context) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.entries) == 0 {
		return "", errors.New("queue empty")
	}
	head := q.entries[0]
	q.entries = q.entries[1:]
	return head, nil
}

func (q *fakeQueue) size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// fakeBus records fanned-out messages.
type fakeBus struct {
	mu       sync.Mutex
	messages []domain.TaskEventMessage
}

func (b *fakeBus) Publish(ctx context.Context, event domain.TaskEventMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.messages = append(b.messages, event)
	return nil
}

func (b *fakeBus) Subscribe(ctx context.Context, projectID string) (<-chan domain.TaskEventMessage, error) {
	ch := make(chan domain.TaskEventMessage)
	close(ch)
	return ch, nil
}

func (b *fakeBus) published() []domain.TaskEventMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.TaskEventMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

type harness struct {
	tasks     ports.TaskRepository
	events    ports.EventRepository
	queue     *fakeQueue
	bus       *fakeBus
	publisher *Publisher
	submitter *Submitter
	svc       *TaskService
	states    *StateService
}

func setupHarness(t *testing.T) *harness {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	// one connection keeps the in-memory database consistent across
	// concurrent test goroutines
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&domain.Task{}, &domain.TaskEvent{}))

	tasks := repository.NewTaskRepository(db)
	events := repository.NewEventRepository(db)
	queue := &fakeQueue{}
	bus := &fakeBus{}
	publisher := NewPublisher(events, bus)

	return &harness{
		tasks:     tasks,
		events:    events,
		queue:     queue,
		bus:       bus,
		publisher: publisher,
		submitter: NewSubmitter(tasks, queue, publisher),
		svc:       NewTaskService(tasks, publisher),
		states:    NewStateService(tasks),
	}
}

func portsFilter(projectID string, limit int) ports.TaskFilter {
	return ports.TaskFilter{ProjectID: projectID, Limit: limit}
}

func submitInput(dedupeKey string) ports.SubmitTaskInput {
	return ports.SubmitTaskInput{
		UserID:     "user-1",
		ProjectID:  "project-1",
		Type:       domain.TypeAnalyzeNovel,
		TargetType: "novel",
		TargetID:   "novel-1",
		DedupeKey:  dedupeKey,
		Payload:    map[string]any{},
	}
}
