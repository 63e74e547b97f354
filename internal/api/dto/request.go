package dto

import (
	"time"

	"storyreel/internal/domain"
)

type SubmitTaskRequest struct {
	Type       string         `json:"type" binding:"required"`
	ProjectID  string         `json:"project_id" binding:"required"`
	EpisodeID  *string        `json:"episode_id"`
	TargetType string         `json:"target_type" binding:"required"`
	TargetID   string         `json:"target_id" binding:"required"`
	DedupeKey  string         `json:"dedupe_key" binding:"required"`
	Priority   int            `json:"priority"`
	Payload    map[string]any `json:"payload"`
	Sync       any            `json:"sync"`
}

type SubmitTaskResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Created bool   `json:"created"`
}

type ListTasksQuery struct {
	ProjectID  string `form:"project_id" binding:"required"`
	TargetType string `form:"target_type"`
	TargetID   string `form:"target_id"`
	Status     string `form:"status"`
	Type       string `form:"type"`
	Limit      int    `form:"limit"`
}

type TaskView struct {
	ID         string          `json:"id"`
	Type       domain.TaskType `json:"type"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	ProjectID  string          `json:"project_id"`
	EpisodeID  *string         `json:"episode_id,omitempty"`

	Status   domain.TaskStatus `json:"status"`
	Progress int               `json:"progress"`

	FlowID         string `json:"flow_id,omitempty"`
	FlowStageIndex int    `json:"flow_stage_index,omitempty"`
	FlowStageTotal int    `json:"flow_stage_total,omitempty"`
	FlowStageTitle string `json:"flow_stage_title,omitempty"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	Result map[string]any `json:"result,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type TargetStateRequest struct {
	ProjectID string      `json:"project_id" binding:"required"`
	Targets   []TargetRef `json:"targets" binding:"required"`
}

// TargetRef names one entity to resolve. Types optionally restricts which
// task types count for this target only.
type TargetRef struct {
	TargetType string   `json:"target_type"`
	TargetID   string   `json:"target_id"`
	Types      []string `json:"types"`
}

type DismissTasksRequest struct {
	TaskIDs []string `json:"task_ids" binding:"required"`
}

type CancelTaskRequest struct {
	Reason string `json:"reason"`
}
