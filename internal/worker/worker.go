package worker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"storyreel/internal/apperrors"
	"storyreel/internal/core/ports"
	"storyreel/internal/service"
)

// heartbeatInterval is how often a running handler refreshes the task's
// heartbeat so the watchdog leaves it alone.
const heartbeatInterval = 15 * time.Second

type Worker struct {
	workerID string
	queue    ports.TaskQueue
	tasks    ports.TaskRepository
	svc      *service.TaskService
	registry TaskRegistry
}

func NewWorker(queue ports.TaskQueue, tasks ports.TaskRepository, svc *service.TaskService, registry TaskRegistry) *Worker {
	return &Worker{
		workerID: uuid.New().String(),
		queue:    queue,
		tasks:    tasks,
		svc:      svc,
		registry: registry,
	}
}

// ProcessNextTask handles exactly one task lifecycle: pop, claim, execute,
// finish. A claim that does not go through is someone else's task.
func (w *Worker) ProcessNextTask(ctx context.Context) {
	taskIDStr, err := w.queue.Dequeue(ctx)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("worker %s: dequeue error: %v", w.workerID, err)
		}
		return
	}

	taskID, err := uuid.Parse(taskIDStr)
	if err != nil {
		log.Printf("worker %s: malformed task id %q: %v", w.workerID, taskIDStr, err)
		return
	}

	claimed, err := w.svc.MarkTaskProcessing(ctx, taskID)
	if err != nil {
		log.Printf("worker %s: claiming task %s failed: %v", w.workerID, taskID, err)
		return
	}
	if !claimed {
		// cancelled, already claimed, or swept; the denial metric covers it
		return
	}

	task, err := w.tasks.FindByID(ctx, taskID)
	if err != nil || task == nil {
		log.Printf("worker %s: loading claimed task %s failed: %v", w.workerID, taskID, err)
		return
	}

	handler, exists := w.registry[task.Type]
	if !exists {
		log.Printf("worker %s: no handler for task type %s", w.workerID, task.Type)
		w.svc.FailTask(ctx, task.ID, apperrors.CodeInternalError, "no handler registered for type "+string(task.Type))
		return
	}

	handlerCtx, cancelHeartbeat := context.WithCancel(ctx)
	go w.keepAlive(handlerCtx, taskID)

	result, err := handler(handlerCtx, task, decodePayload(task.Payload))
	cancelHeartbeat()

	if err != nil {
		log.Printf("worker %s: task %s failed: %v", w.workerID, task.ID, err)
		w.svc.FailTask(ctx, task.ID, apperrors.CodeOf(err), err.Error())
		return
	}

	var encoded datatypes.JSON
	if result != nil {
		if raw, marshalErr := json.Marshal(result); marshalErr == nil {
			encoded = datatypes.JSON(raw)
		}
	}
	if _, err := w.svc.CompleteTask(ctx, task.ID, encoded); err != nil {
		log.Printf("worker %s: completing task %s failed: %v", w.workerID, task.ID, err)
		return
	}
	log.Printf("worker %s: finished task %s (%s)", w.workerID, task.ID, task.Type)
}

func (w *Worker) keepAlive(ctx context.Context, taskID uuid.UUID) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.svc.TouchHeartbeat(ctx, taskID); err != nil {
				log.Printf("worker %s: heartbeat for %s failed: %v", w.workerID, taskID, err)
			}
		}
	}
}

// StartPool launches concurrency worker loops that run until ctx is done.
func (w *Worker) StartPool(ctx context.Context, concurrency int) {
	log.Printf("starting worker pool with %d concurrent workers", concurrency)

	for i := 0; i < concurrency; i++ {
		go func(threadID int) {
			log.Printf("worker thread %d (ID: %s) started", threadID, w.workerID)
			for {
				select {
				case <-ctx.Done():
					log.Printf("worker thread %d (ID: %s) shutting down", threadID, w.workerID)
					return
				default:
					w.ProcessNextTask(ctx)
				}
			}
		}(i)
	}
}
