package service

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
	"storyreel/internal/metrics"
)

// Publisher persists TaskEvents and mirrors them onto the pub/sub channel.
// The durable row is written first; the fan-out is best-effort and its
// failure never fails the caller.
type Publisher struct {
	events ports.EventRepository
	bus    ports.EventBus
}

func NewPublisher(events ports.EventRepository, bus ports.EventBus) *Publisher {
	return &Publisher{events: events, bus: bus}
}

func (p *Publisher) Publish(ctx context.Context, task *domain.Task, eventType domain.TaskEventType, payload map[string]any) error {
	var raw datatypes.JSON
	if len(payload) > 0 {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = datatypes.JSON(encoded)
	}

	event := &domain.TaskEvent{
		TaskID:    task.ID,
		ProjectID: task.ProjectID,
		UserID:    task.UserID,
		Type:      eventType,
		Payload:   raw,
		CreatedAt: time.Now(),
	}
	if err := p.events.Append(ctx, event); err != nil {
		return err
	}

	message := domain.TaskEventMessage{
		TaskID:     task.ID,
		ProjectID:  task.ProjectID,
		UserID:     task.UserID,
		Type:       eventType,
		TaskType:   task.Type,
		TargetType: task.TargetType,
		TargetID:   task.TargetID,
		EpisodeID:  task.EpisodeID,
		Payload:    payload,
		Ts:         event.CreatedAt,
	}
	if err := p.bus.Publish(ctx, message); err != nil {
		log.Printf("publisher: fan-out failed for task %s: %v", task.ID, err)
	}
	return nil
}

// ReplayTerminalStatus folds a task's event stream, in insertion order, down
// to the terminal status it implies. Returns empty status when the stream
// has no terminal event yet.
func (p *Publisher) ReplayTerminalStatus(ctx context.Context, taskID uuid.UUID) (domain.TaskStatus, error) {
	events, err := p.events.ListByTask(ctx, taskID)
	if err != nil {
		return "", err
	}
	var status domain.TaskStatus
	for _, event := range events {
		switch event.Type {
		case domain.EventCompleted:
			status = domain.StatusCompleted
		case domain.EventFailed:
			status = domain.StatusFailed
		case domain.EventDismissed:
			status = domain.StatusDismissed
		}
	}
	return status, nil
}

// CheckTerminalConsistency compares the replayed stream against the task
// row and records a mismatch metric when they disagree.
func (p *Publisher) CheckTerminalConsistency(ctx context.Context, task *domain.Task) bool {
	if !task.Status.IsTerminal() {
		return true
	}
	replayed, err := p.ReplayTerminalStatus(ctx, task.ID)
	if err != nil {
		return true
	}
	if replayed != task.Status {
		metrics.TerminalStateMismatches.Inc()
		log.Printf("publisher: terminal state mismatch for task %s: row=%s replay=%s", task.ID, task.Status, replayed)
		return false
	}
	return true
}
