package service

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"time"

	"storyreel/internal/apperrors"
	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
)

// maxTargetStateBatch caps one target-state query. Polling clients that
// need more must page.
const maxTargetStateBatch = 500

type TargetPhase string

const (
	PhaseIdle       TargetPhase = "idle"
	PhaseQueued     TargetPhase = "queued"
	PhaseProcessing TargetPhase = "processing"
	PhaseCompleted  TargetPhase = "completed"
	PhaseFailed     TargetPhase = "failed"
)

// TargetError is the stable error surface for a failed target.
type TargetError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TargetState summarizes the latest relevant task for one target entity.
// Idle means no task (other than dismissed ones) has touched the target.
type TargetState struct {
	TargetType string `json:"targetType"`
	TargetID   string `json:"targetId"`

	Phase TargetPhase `json:"phase"`

	RunningTaskID   string          `json:"runningTaskId,omitempty"`
	RunningTaskType domain.TaskType `json:"runningTaskType,omitempty"`
	Progress        int             `json:"progress"`

	Stage      int    `json:"stage,omitempty"`
	StageTotal int    `json:"stageTotal,omitempty"`
	StageLabel string `json:"stageLabel,omitempty"`

	LastError *TargetError `json:"lastError,omitempty"`
	UpdatedAt *time.Time   `json:"updatedAt,omitempty"`
}

// StateService answers batched "what is happening to these entities"
// queries for polling UIs.
type StateService struct {
	tasks ports.TaskRepository
}

func NewStateService(tasks ports.TaskRepository) *StateService {
	return &StateService{tasks: tasks}
}

func pairKey(targetType, targetID string) string {
	return targetType + "\x00" + targetID
}

// QueryTaskTargetStates resolves one state per requested pair, in request
// order, deduplicated. Each pair carries its own optional type restriction;
// the batched lookup stays unfiltered and the restriction is applied when
// resolving. The whole batch is rejected when any pair is malformed; a
// partial answer would be worse than none for a polling UI.
func (s *StateService) QueryTaskTargetStates(ctx context.Context, projectID, userID string, pairs []ports.TargetPair) ([]TargetState, error) {
	if len(pairs) == 0 {
		return nil, apperrors.InvalidParams("targets must be a non-empty array")
	}
	if len(pairs) > maxTargetStateBatch {
		return nil, apperrors.InvalidParams("targets exceeds the batch limit of 500")
	}

	seen := make(map[string]struct{}, len(pairs))
	unique := make([]ports.TargetPair, 0, len(pairs))
	for _, pair := range pairs {
		targetType := strings.TrimSpace(pair.TargetType)
		targetID := strings.TrimSpace(pair.TargetID)
		if targetType == "" || targetID == "" {
			return nil, apperrors.InvalidParams("each target needs a non-empty targetType and targetId")
		}
		key := pairKey(targetType, targetID)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, ports.TargetPair{TargetType: targetType, TargetID: targetID, Types: pair.Types})
	}

	tasks, err := s.tasks.FindForTargets(ctx, projectID, userID, unique)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]domain.Task, len(unique))
	for _, task := range tasks {
		key := pairKey(task.TargetType, task.TargetID)
		grouped[key] = append(grouped[key], task)
	}

	states := make([]TargetState, 0, len(unique))
	for _, pair := range unique {
		group := grouped[pairKey(pair.TargetType, pair.TargetID)]
		states = append(states, resolveTargetState(pair, group))
	}
	return states, nil
}

func matchesTypes(task *domain.Task, types []domain.TaskType) bool {
	if len(types) == 0 {
		return true
	}
	for _, taskType := range types {
		if task.Type == taskType {
			return true
		}
	}
	return false
}

// resolveTargetState picks the most recently updated task for the pair and
// maps its status to a phase. The pair's type restriction is applied first,
// then active tasks win over terminal ones so a retry in flight hides the
// previous failure.
func resolveTargetState(pair ports.TargetPair, tasks []domain.Task) TargetState {
	state := TargetState{
		TargetType: pair.TargetType,
		TargetID:   pair.TargetID,
		Phase:      PhaseIdle,
	}

	var group []domain.Task
	for _, task := range tasks {
		if matchesTypes(&task, pair.Types) {
			group = append(group, task)
		}
	}
	if len(group) == 0 {
		return state
	}

	sort.SliceStable(group, func(i, j int) bool {
		return group[i].UpdatedAt.After(group[j].UpdatedAt)
	})

	latest := &group[0]
	for i := range group {
		if group[i].Status.IsActive() {
			latest = &group[i]
			break
		}
	}

	updatedAt := latest.UpdatedAt
	state.UpdatedAt = &updatedAt
	state.Progress = latest.Progress

	switch latest.Status {
	case domain.StatusQueued:
		state.Phase = PhaseQueued
	case domain.StatusProcessing:
		state.Phase = PhaseProcessing
	case domain.StatusCompleted:
		state.Phase = PhaseCompleted
	case domain.StatusFailed:
		state.Phase = PhaseFailed
		state.LastError = &TargetError{Code: latest.ErrorCode, Message: latest.ErrorMessage}
	}

	if latest.Status.IsActive() {
		state.RunningTaskID = latest.ID.String()
		state.RunningTaskType = latest.Type
	}

	state.Stage = latest.FlowStageIndex
	state.StageTotal = latest.FlowStageTotal
	state.StageLabel = latest.FlowStageTitle
	if state.StageLabel == "" {
		state.StageLabel = stageLabelFromPayload(latest.Payload)
	}
	return state
}

func stageLabelFromPayload(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	var payload struct {
		FlowStageTitle string `json:"flowStageTitle"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	return strings.TrimSpace(payload.FlowStageTitle)
}
