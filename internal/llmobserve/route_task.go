package llmobserve

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"storyreel/internal/apperrors"
	"storyreel/internal/core/ports"
	"storyreel/internal/domain"
)

// InternalTaskHeader marks a request issued by our own worker tier. Such
// callers are trusted to run synchronously.
const InternalTaskHeader = "X-Internal-Task-Id"

type DisplayMode string

const (
	DisplayModeDetail  DisplayMode = "detail"
	DisplayModeLoading DisplayMode = "loading"
)

// ParseSyncFlag accepts the boolean-ish forms callers send: true, 1, "1",
// "true", "yes", "on" (case-insensitive). Everything else is false.
func ParseSyncFlag(value any) bool {
	switch v := value.(type) {
	case bool:
		return v
	case int:
		return v == 1
	case float64:
		return v == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "on":
			return true
		}
	}
	return false
}

// ResolveDisplayMode falls back on anything that is not a known mode.
func ResolveDisplayMode(value any, fallback DisplayMode) DisplayMode {
	if text, ok := value.(string); ok {
		if text == string(DisplayModeDetail) || text == string(DisplayModeLoading) {
			return DisplayMode(text)
		}
	}
	return fallback
}

// ResolvePositiveInteger tolerates junk caller input: non-finite,
// non-positive, or unparsable values fall back to the provided default.
func ResolvePositiveInteger(value any, fallback int) int {
	switch v := value.(type) {
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case float64:
		if v > 0 {
			return int(v)
		}
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed != "" {
			if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
				return parsed
			}
		}
	}
	return fallback
}

func toObject(value any) map[string]any {
	if obj, ok := value.(map[string]any); ok {
		return obj
	}
	return map[string]any{}
}

// RouteTaskParams carries one route's submission intent.
type RouteTaskParams struct {
	Request   *http.Request
	UserID    string
	ProjectID string
	EpisodeID *string

	Type       domain.TaskType
	TargetType string
	TargetID   string

	RoutePath string
	Body      map[string]any
	DedupeKey string
	Priority  int
	Locale    string

	// AllowSync is a per-route, in-code assertion that synchronous
	// execution is intentional. User-facing production routes leave it
	// false; a sync flag on such a route is ignored and the task still
	// goes async.
	AllowSync bool
}

// RouteTaskAdapter is the single chokepoint routes use to start LLM-backed
// work.
type RouteTaskAdapter struct {
	submitter ports.TaskSubmitter
}

func NewRouteTaskAdapter(submitter ports.TaskSubmitter) *RouteTaskAdapter {
	return &RouteTaskAdapter{submitter: submitter}
}

func (a *RouteTaskAdapter) syncRequested(params RouteTaskParams) bool {
	if params.Request != nil {
		if params.Request.Header.Get(InternalTaskHeader) != "" {
			return true
		}
		if ParseSyncFlag(params.Request.URL.Query().Get("sync")) {
			return true
		}
	}
	return ParseSyncFlag(params.Body["sync"])
}

// MaybeSubmitLLMTask submits an async task and returns its submission
// result, or nil when the caller must fall through to its own synchronous
// code path. A nil return is not success; the caller decides what happens
// next.
func (a *RouteTaskAdapter) MaybeSubmitLLMTask(ctx context.Context, params RouteTaskParams) (*ports.SubmitTaskResult, error) {
	if strings.TrimSpace(params.DedupeKey) == "" {
		return nil, apperrors.InvalidParams("dedupeKey is required")
	}

	if a.syncRequested(params) && params.AllowSync {
		return nil, nil
	}

	payload := make(map[string]any, len(params.Body)+2)
	for key, value := range params.Body {
		payload[key] = value
	}

	displayMode := ResolveDisplayMode(payload["displayMode"], DisplayModeDetail)
	payload["displayMode"] = string(displayMode)

	meta := toObject(payload["meta"])
	meta["route"] = params.RoutePath
	if params.Locale != "" {
		meta["locale"] = params.Locale
	}
	payload["meta"] = meta

	priority := ResolvePositiveInteger(params.Priority, 0)

	return a.submitter.SubmitTask(ctx, ports.SubmitTaskInput{
		UserID:     params.UserID,
		Locale:     params.Locale,
		RequestID:  requestID(params.Request),
		ProjectID:  params.ProjectID,
		EpisodeID:  params.EpisodeID,
		Type:       params.Type,
		TargetType: params.TargetType,
		TargetID:   params.TargetID,
		Payload:    payload,
		DedupeKey:  params.DedupeKey,
		Priority:   priority,
	})
}

func requestID(r *http.Request) string {
	if r == nil {
		return ""
	}
	return r.Header.Get("X-Request-Id")
}
