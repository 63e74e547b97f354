package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskEventType string

const (
	EventCreated   TaskEventType = "created"
	EventStarted   TaskEventType = "started"
	EventProgress  TaskEventType = "progress"
	EventCompleted TaskEventType = "completed"
	EventFailed    TaskEventType = "failed"
	EventDismissed TaskEventType = "dismissed"
)

// TerminalEventForStatus maps a terminal task status to its lifecycle event.
func TerminalEventForStatus(status TaskStatus) (TaskEventType, bool) {
	switch status {
	case StatusCompleted:
		return EventCompleted, true
	case StatusFailed:
		return EventFailed, true
	case StatusDismissed:
		return EventDismissed, true
	}
	return "", false
}

// TaskEvent is an append-only record of something that happened to a task.
// Rows are never mutated or deleted; replaying a task's events in insertion
// order must reconstruct the same terminal status as the task row.
type TaskEvent struct {
	ID        uint      `gorm:"primary_key;autoIncrement"`
	TaskID    uuid.UUID `gorm:"type:uuid;index;not null"`
	ProjectID string    `gorm:"type:varchar(64);index;not null"`
	UserID    string    `gorm:"type:varchar(64);not null"`

	Type    TaskEventType  `gorm:"type:varchar(20);not null"`
	Payload datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time
}

// TaskEventMessage is the wire form fanned out over pub/sub. The durable
// TaskEvent table stays the source of truth for ordering and replay; the
// channel is a low-latency hint only.
type TaskEventMessage struct {
	TaskID     uuid.UUID      `json:"task_id"`
	ProjectID  string         `json:"project_id"`
	UserID     string         `json:"user_id"`
	Type       TaskEventType  `json:"type"`
	TaskType   TaskType       `json:"task_type"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	EpisodeID  *string        `json:"episode_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	Ts         time.Time      `json:"ts"`
}
