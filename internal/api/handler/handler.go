package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"storyreel/internal/api/dto"
	"storyreel/internal/apperrors"
	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
	"storyreel/internal/llmobserve"
	"storyreel/internal/service"
)

// TaskHandler exposes the task core over HTTP. Identity arrives from the
// gateway in X-User-Id; every read and mutation is scoped to that user.
type TaskHandler struct {
	adapter *llmobserve.RouteTaskAdapter
	tasks   *service.TaskService
	states  *service.StateService
}

func NewTaskHandler(adapter *llmobserve.RouteTaskAdapter, tasks *service.TaskService, states *service.StateService) *TaskHandler {
	return &TaskHandler{adapter: adapter, tasks: tasks, states: states}
}

// requireUser extracts the gateway identity or answers 401. Every endpoint
// is user-scoped; an empty identity must never silently match nothing.
func requireUser(c *gin.Context) (string, bool) {
	uid := strings.TrimSpace(c.GetHeader("X-User-Id"))
	if uid == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"code": "UNAUTHORIZED", "message": "missing user identity"}})
		return "", false
	}
	return uid, true
}

func locale(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("X-Locale"))
}

func writeError(c *gin.Context, err error) {
	code := apperrors.CodeOf(err)
	status := http.StatusInternalServerError
	switch code {
	case apperrors.CodeInvalidParams:
		status = http.StatusBadRequest
	case apperrors.CodeEnqueueFailed:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": err.Error()}})
}

func taskView(task *domain.Task) dto.TaskView {
	view := dto.TaskView{
		ID:             task.ID.String(),
		Type:           task.Type,
		TargetType:     task.TargetType,
		TargetID:       task.TargetID,
		ProjectID:      task.ProjectID,
		EpisodeID:      task.EpisodeID,
		Status:         task.Status,
		Progress:       task.Progress,
		FlowID:         task.FlowID,
		FlowStageIndex: task.FlowStageIndex,
		FlowStageTotal: task.FlowStageTotal,
		FlowStageTitle: task.FlowStageTitle,
		ErrorCode:      task.ErrorCode,
		ErrorMessage:   task.ErrorMessage,
		CreatedAt:      task.CreatedAt,
		UpdatedAt:      task.UpdatedAt,
		StartedAt:      task.StartedAt,
		FinishedAt:     task.FinishedAt,
	}
	if len(task.Result) > 0 {
		result := map[string]any{}
		if err := json.Unmarshal(task.Result, &result); err == nil {
			view.Result = result
		}
	}
	return view
}

// SubmitTask starts an async task for the authenticated user. The route
// never executes synchronously; a sync flag in the body is ignored here.
func (h *TaskHandler) SubmitTask(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}

	var req dto.SubmitTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.InvalidParams(err.Error()))
		return
	}

	body := make(map[string]any, len(req.Payload)+1)
	for key, value := range req.Payload {
		body[key] = value
	}
	if req.Sync != nil {
		body["sync"] = req.Sync
	}

	result, err := h.adapter.MaybeSubmitLLMTask(c.Request.Context(), llmobserve.RouteTaskParams{
		Request:    c.Request,
		UserID:     uid,
		ProjectID:  req.ProjectID,
		EpisodeID:  req.EpisodeID,
		Type:       domain.TaskType(req.Type),
		TargetType: req.TargetType,
		TargetID:   req.TargetID,
		RoutePath:  c.FullPath(),
		Body:       body,
		DedupeKey:  req.DedupeKey,
		Priority:   req.Priority,
		Locale:     locale(c),
		AllowSync:  false,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, dto.SubmitTaskResponse{
		TaskID:  result.Task.ID.String(),
		Status:  string(result.Task.Status),
		Created: result.Created,
	})
}

func (h *TaskHandler) GetTask(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.InvalidParams("malformed task id"))
		return
	}
	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if task == nil || task.UserID != uid {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "task not found"}})
		return
	}
	c.JSON(http.StatusOK, taskView(task))
}

func (h *TaskHandler) ListTasks(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var query dto.ListTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		writeError(c, apperrors.InvalidParams(err.Error()))
		return
	}

	filter := ports.TaskFilter{
		ProjectID:  query.ProjectID,
		TargetType: query.TargetType,
		TargetID:   query.TargetID,
		Limit:      query.Limit,
	}
	for _, status := range splitCSV(query.Status) {
		filter.Status = append(filter.Status, domain.TaskStatus(status))
	}
	for _, taskType := range splitCSV(query.Type) {
		filter.Types = append(filter.Types, domain.TaskType(taskType))
	}

	tasks, err := h.tasks.QueryTasks(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]dto.TaskView, 0, len(tasks))
	for i := range tasks {
		if tasks[i].UserID != uid {
			continue
		}
		views = append(views, taskView(&tasks[i]))
	}
	c.JSON(http.StatusOK, gin.H{"tasks": views})
}

// QueryTargetStates answers the polling UI's batched state question.
func (h *TaskHandler) QueryTargetStates(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req dto.TargetStateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.InvalidParams(err.Error()))
		return
	}

	pairs := make([]ports.TargetPair, 0, len(req.Targets))
	for _, target := range req.Targets {
		var types []domain.TaskType
		for _, taskType := range target.Types {
			types = append(types, domain.TaskType(taskType))
		}
		pairs = append(pairs, ports.TargetPair{
			TargetType: target.TargetType,
			TargetID:   target.TargetID,
			Types:      types,
		})
	}

	states, err := h.states.QueryTaskTargetStates(c.Request.Context(), req.ProjectID, uid, pairs)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"states": states})
}

func (h *TaskHandler) DismissTasks(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	var req dto.DismissTasksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.InvalidParams(err.Error()))
		return
	}

	dismissed, err := h.tasks.DismissFailedTasksWithDetails(c.Request.Context(), uid, req.TaskIDs)
	if err != nil {
		writeError(c, err)
		return
	}

	views := make([]dto.TaskView, 0, len(dismissed))
	for i := range dismissed {
		views = append(views, taskView(&dismissed[i]))
	}
	c.JSON(http.StatusOK, gin.H{"dismissed": views})
}

func (h *TaskHandler) CancelTask(c *gin.Context) {
	uid, ok := requireUser(c)
	if !ok {
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, apperrors.InvalidParams("malformed task id"))
		return
	}

	task, err := h.tasks.GetTask(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if task == nil || task.UserID != uid {
		c.JSON(http.StatusNotFound, gin.H{"error": gin.H{"code": "NOT_FOUND", "message": "task not found"}})
		return
	}

	var req dto.CancelTaskRequest
	_ = c.ShouldBindJSON(&req)

	cancelled, err := h.tasks.CancelTask(c.Request.Context(), id, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

func splitCSV(value string) []string {
	var parts []string
	for _, part := range strings.Split(value, ",") {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
