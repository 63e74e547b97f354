package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"storyreel/internal/domain"
)

// TaskQueue represents the execution queue operations
type TaskQueue interface {
	// Enqueue hands a task ID to the worker pool. Lower priority runs first.
	Enqueue(ctx context.Context, taskID string, priority int) error

	// Dequeue waits (blocks) until a task ID is available
	Dequeue(ctx context.Context) (string, error)
}

// EventBus represents the pub/sub fan-out for task events.
// Delivery is best-effort; the durable TaskEvent table is the source of
// truth for ordering and replay.
type EventBus interface {
	Publish(ctx context.Context, event domain.TaskEventMessage) error

	// Subscribe streams events for one project channel
	Subscribe(ctx context.Context, projectID string) (<-chan domain.TaskEventMessage, error)
}

// Limits shared by the service-level clamp and the store-level guard.
const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 200
)

// TaskFilter narrows Find results. Zero values mean "no constraint".
type TaskFilter struct {
	ProjectID  string
	TargetType string
	TargetID   string
	Status     []domain.TaskStatus
	Types      []domain.TaskType
	Limit      int
}

// TargetPair identifies one domain entity in a batch target lookup. A
// non-empty Types list restricts which task types count for this target;
// other targets in the same batch keep their own restrictions.
type TargetPair struct {
	TargetType string
	TargetID   string
	Types      []domain.TaskType
}

// TaskRepository represents the durable task store.
//
// Every Mark* method is a single-row conditional update: it compares the
// current status against the transition's precondition and reports false
// when the precondition does not hold, never overwriting blindly.
type TaskRepository interface {
	// Create inserts a queued task. A dedupe key collision surfaces as
	// gorm.ErrDuplicatedKey for the caller to resolve.
	Create(ctx context.Context, task *domain.Task) error

	FindByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	FindLatestByDedupeKey(ctx context.Context, dedupeKey string) (*domain.Task, error)
	Find(ctx context.Context, filter TaskFilter) ([]domain.Task, error)

	// FindForTargets resolves tasks touching any of the given pairs in one
	// batched lookup, scoped by project and owner. Dismissed rows are
	// excluded; per-target type restrictions are applied by the caller.
	FindForTargets(ctx context.Context, projectID, userID string, pairs []TargetPair) ([]domain.Task, error)

	// ReleaseDedupeKey clears the key on a terminal row so a new task with
	// the same key can be created. No-op on active rows.
	ReleaseDedupeKey(ctx context.Context, id uuid.UUID) (bool, error)

	// queued -> processing; sets startedAt and heartbeat
	MarkProcessing(ctx context.Context, id uuid.UUID) (bool, error)

	// processing only
	UpdateProgress(ctx context.Context, id uuid.UUID, progress int, payload datatypes.JSON) (bool, error)
	TouchHeartbeat(ctx context.Context, id uuid.UUID) (bool, error)
	MarkCompleted(ctx context.Context, id uuid.UUID, result datatypes.JSON) (bool, error)

	// active (queued|processing) -> failed; releases the dedupe key
	MarkFailed(ctx context.Context, id uuid.UUID, errorCode, errorMessage string) (bool, error)

	// failed -> dismissed for rows owned by userID; returns the rows that
	// actually transitioned
	DismissFailed(ctx context.Context, ids []uuid.UUID, userID string) ([]domain.Task, error)

	MarkEnqueued(ctx context.Context, id uuid.UUID) (bool, error)
	MarkEnqueueFailed(ctx context.Context, id uuid.UUID, enqueueError string) (bool, error)

	// startup recovery: processing -> queued for tasks orphaned by a crash
	ResetProcessingToQueued(ctx context.Context) (int64, error)

	// watchdog candidates: processing rows whose heartbeat (or startedAt,
	// when no heartbeat was ever written) is older than before
	FindStaleProcessing(ctx context.Context, before time.Time, limit int) ([]domain.Task, error)
}

// EventRepository owns the append-only TaskEvent table
type EventRepository interface {
	Append(ctx context.Context, event *domain.TaskEvent) error
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.TaskEvent, error)
}

// SubmitTaskInput is the caller intent handed to the submitter.
type SubmitTaskInput struct {
	UserID    string
	Locale    string
	RequestID string
	ProjectID string
	EpisodeID *string

	Type       domain.TaskType
	TargetType string
	TargetID   string

	Payload   map[string]any
	DedupeKey string
	Priority  int

	BillingInfo datatypes.JSON
}

// SubmitTaskResult reports the task plus whether this call created it.
// Created=false means a non-terminal task with the same dedupe key already
// existed and the call collapsed onto it.
type SubmitTaskResult struct {
	Task    *domain.Task
	Created bool
}

// TaskSubmitter is the boundary the route-task adapter forwards to.
type TaskSubmitter interface {
	SubmitTask(ctx context.Context, input SubmitTaskInput) (*SubmitTaskResult, error)
}
