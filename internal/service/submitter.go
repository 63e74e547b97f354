package service

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"strings"

	"gorm.io/gorm"

	"storyreel/internal/apperrors"
	"storyreel/internal/billing"
	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
	"storyreel/internal/llmobserve"
	"storyreel/internal/metrics"
)

// dedupeRetryLimit bounds the insert-conflict-resolve loop. Two rounds
// cover the realistic race; more means the store is misbehaving.
const dedupeRetryLimit = 3

// Submitter builds normalized task records, enforces dedupe at the store
// level, and hands created tasks to the execution queue.
type Submitter struct {
	tasks     ports.TaskRepository
	queue     ports.TaskQueue
	publisher *Publisher
}

func NewSubmitter(tasks ports.TaskRepository, queue ports.TaskQueue, publisher *Publisher) *Submitter {
	return &Submitter{
		tasks:     tasks,
		queue:     queue,
		publisher: publisher,
	}
}

func toObject(value any) map[string]any {
	if obj, ok := value.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

func readString(value any) string {
	if text, ok := value.(string); ok {
		return strings.TrimSpace(text)
	}
	return ""
}

func readPositiveInt(value any) (int, bool) {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v, true
		}
	case int64:
		if v > 0 {
			return int(v), true
		}
	case float64:
		if v > 0 {
			return int(v), true
		}
	}
	return 0, false
}

// NormalizedFlow is the flow metadata resolved for one submission.
type NormalizedFlow struct {
	FlowID         string
	FlowStageIndex int
	FlowStageTotal int
	FlowStageTitle string
}

// NormalizeFlowMeta resolves flow metadata with the precedence
// payload.meta.* > top-level payload fields > per-type defaults, clamping
// stageIndex to >=1 and stageTotal to >=stageIndex. It never fails: junk
// values just fall through to the next precedence level.
func NormalizeFlowMeta(taskType domain.TaskType, payload map[string]any) NormalizedFlow {
	defaults := llmobserve.FlowMetaForType(taskType)
	meta := toObject(payload["meta"])

	flowID := readString(meta["flowId"])
	if flowID == "" {
		flowID = readString(payload["flowId"])
	}
	if flowID == "" {
		flowID = defaults.FlowID
	}

	stageIndex, ok := readPositiveInt(meta["flowStageIndex"])
	if !ok {
		stageIndex, ok = readPositiveInt(payload["flowStageIndex"])
	}
	if !ok {
		stageIndex = defaults.FlowStageIndex
	}
	if stageIndex < 1 {
		stageIndex = 1
	}

	stageTotal, ok := readPositiveInt(meta["flowStageTotal"])
	if !ok {
		stageTotal, ok = readPositiveInt(payload["flowStageTotal"])
	}
	if !ok {
		stageTotal = defaults.FlowStageTotal
	}
	if stageTotal < stageIndex {
		stageTotal = stageIndex
	}

	stageTitle := readString(meta["flowStageTitle"])
	if stageTitle == "" {
		stageTitle = readString(payload["flowStageTitle"])
	}
	if stageTitle == "" {
		stageTitle = defaults.FlowStageTitle
	}

	return NormalizedFlow{
		FlowID:         flowID,
		FlowStageIndex: stageIndex,
		FlowStageTotal: stageTotal,
		FlowStageTitle: stageTitle,
	}
}

func normalizePayload(input ports.SubmitTaskInput, flow NormalizedFlow) map[string]any {
	payload := make(map[string]any, len(input.Payload)+5)
	for key, value := range input.Payload {
		payload[key] = value
	}
	payload["flowId"] = flow.FlowID
	payload["flowStageIndex"] = flow.FlowStageIndex
	payload["flowStageTotal"] = flow.FlowStageTotal
	payload["flowStageTitle"] = flow.FlowStageTitle

	meta := toObject(payload["meta"])
	meta["flowId"] = flow.FlowID
	meta["flowStageIndex"] = flow.FlowStageIndex
	meta["flowStageTotal"] = flow.FlowStageTotal
	meta["flowStageTitle"] = flow.FlowStageTitle
	if input.Locale != "" {
		meta["locale"] = input.Locale
	}
	payload["meta"] = meta

	return payload
}

// assetHubTypes run against cross-project user assets and default to the
// global pseudo-project when the caller sends none.
var assetHubTypes = map[domain.TaskType]bool{
	domain.TypeAssetHubDesignChar:     true,
	domain.TypeAssetHubDesignLocation: true,
}

func (s *Submitter) validate(input ports.SubmitTaskInput) error {
	if strings.TrimSpace(input.DedupeKey) == "" {
		return apperrors.InvalidParams("dedupeKey must be a non-empty string")
	}
	if strings.TrimSpace(input.TargetType) == "" || strings.TrimSpace(input.TargetID) == "" {
		return apperrors.InvalidParams("targetType and targetId are required")
	}
	if strings.TrimSpace(input.UserID) == "" || strings.TrimSpace(input.ProjectID) == "" {
		return apperrors.InvalidParams("userId and projectId are required")
	}
	return nil
}

// SubmitTask inserts a queued task unless a non-terminal task with the same
// dedupe key already exists, in which case that task is returned with
// Created=false. The collision is resolved against the store's unique
// index, never by check-then-insert, so concurrent submissions with one
// key converge on one row.
func (s *Submitter) SubmitTask(ctx context.Context, input ports.SubmitTaskInput) (*ports.SubmitTaskResult, error) {
	if strings.TrimSpace(input.ProjectID) == "" && assetHubTypes[input.Type] {
		input.ProjectID = domain.GlobalAssetProjectID
	}
	if err := s.validate(input); err != nil {
		return nil, err
	}

	flow := NormalizeFlowMeta(input.Type, input.Payload)
	payload := normalizePayload(input, flow)
	rawPayload, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	billingInfo := input.BillingInfo
	if billingInfo == nil && billing.IsBillableType(input.Type) {
		billingInfo = billing.DefaultInfo(input.Type)
	}

	dedupeKey := strings.TrimSpace(input.DedupeKey)

	var created *domain.Task
	for attempt := 0; attempt < dedupeRetryLimit; attempt++ {
		task := domain.NewTask(input.UserID, input.ProjectID, input.Type, input.TargetType, input.TargetID)
		task.EpisodeID = input.EpisodeID
		task.DedupeKey = &dedupeKey
		task.Priority = input.Priority
		task.Payload = rawPayload
		task.BillingInfo = billingInfo
		task.FlowID = flow.FlowID
		task.FlowStageIndex = flow.FlowStageIndex
		task.FlowStageTotal = flow.FlowStageTotal
		task.FlowStageTitle = flow.FlowStageTitle

		err := s.tasks.Create(ctx, task)
		if err == nil {
			created = task
			break
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, err
		}

		existing, findErr := s.tasks.FindLatestByDedupeKey(ctx, dedupeKey)
		if findErr != nil {
			return nil, findErr
		}
		if existing == nil {
			// the colliding row released its key between our insert and
			// lookup; try again
			continue
		}
		if existing.Status.IsActive() {
			metrics.TaskSubmissions.WithLabelValues(string(input.Type), "deduped").Inc()
			log.Printf("submitter: dedupe hit for key %q, returning task %s", dedupeKey, existing.ID)
			return &ports.SubmitTaskResult{Task: existing, Created: false}, nil
		}
		// terminal row still holding the key: release it and retry
		if _, err := s.tasks.ReleaseDedupeKey(ctx, existing.ID); err != nil {
			return nil, err
		}
	}
	if created == nil {
		return nil, apperrors.New(apperrors.CodeInternalError, "dedupe conflict could not be resolved")
	}

	metrics.TaskSubmissions.WithLabelValues(string(input.Type), "created").Inc()

	if err := s.publisher.Publish(ctx, created, domain.EventCreated, map[string]any{
		"flowId":         flow.FlowID,
		"flowStageIndex": flow.FlowStageIndex,
		"flowStageTotal": flow.FlowStageTotal,
		"flowStageTitle": flow.FlowStageTitle,
		"requestId":      input.RequestID,
	}); err != nil {
		log.Printf("submitter: created event append failed for task %s: %v", created.ID, err)
	}

	if err := s.enqueue(ctx, created); err != nil {
		return nil, err
	}

	log.Printf("submitter: task %s created (type=%s target=%s:%s)", created.ID, created.Type, created.TargetType, created.TargetID)
	return &ports.SubmitTaskResult{Task: created, Created: true}, nil
}

func (s *Submitter) enqueue(ctx context.Context, task *domain.Task) error {
	if err := s.queue.Enqueue(ctx, task.ID.String(), task.Priority); err != nil {
		metrics.EnqueueResults.WithLabelValues(string(task.Type), "enqueue_failed").Inc()
		if _, markErr := s.tasks.MarkEnqueueFailed(ctx, task.ID, err.Error()); markErr != nil {
			log.Printf("submitter: recording enqueue failure for task %s failed: %v", task.ID, markErr)
		}
		message := "queue enqueue failed: " + err.Error()
		if _, failErr := s.tasks.MarkFailed(ctx, task.ID, apperrors.CodeEnqueueFailed, message); failErr != nil {
			log.Printf("submitter: failing task %s after enqueue error failed: %v", task.ID, failErr)
		}
		task.Status = domain.StatusFailed
		if pubErr := s.publisher.Publish(ctx, task, domain.EventFailed, map[string]any{
			"stage":     "enqueue_failed",
			"errorCode": apperrors.CodeEnqueueFailed,
			"message":   message,
		}); pubErr != nil {
			log.Printf("submitter: failed event append for task %s failed: %v", task.ID, pubErr)
		}
		return apperrors.New(apperrors.CodeEnqueueFailed, message)
	}

	metrics.EnqueueResults.WithLabelValues(string(task.Type), "enqueued").Inc()
	if _, err := s.tasks.MarkEnqueued(ctx, task.ID); err != nil {
		log.Printf("submitter: marking task %s enqueued failed: %v", task.ID, err)
	}
	return nil
}
