package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"storyreel/internal/domain"
	"storyreel/internal/llmobserve"
)

// TaskHandler executes one task type. It receives the decoded payload and
// returns the result object to persist on completion.
type TaskHandler func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error)

// TaskRegistry maps task types to their handlers.
type TaskRegistry map[domain.TaskType]TaskHandler

// llmHandler is the common shape of the LLM-backed handlers: validate the
// runtime options up front so bad options fail the task before any model
// call is attempted.
func llmHandler(run func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error)) TaskHandler {
	return func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error) {
		var rawOpts map[string]any
		if value, ok := payload["llmOptions"]; ok {
			obj, isObj := value.(map[string]any)
			if !isObj {
				return nil, fmt.Errorf("llmOptions must be an object")
			}
			rawOpts = obj
		}
		opts, err := llmobserve.ParseLLMRuntimeOptions(rawOpts)
		if err != nil {
			return nil, err
		}
		return run(ctx, task, payload, opts)
	}
}

// InitRegistry wires the executable actions. The handlers here stand in
// for the model and media pipelines; each returns the result shape its
// consumers read back.
func InitRegistry() TaskRegistry {
	registry := make(TaskRegistry)

	registry[domain.TypeAnalyzeNovel] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"analysis": map[string]any{"novelId": task.TargetID}}, nil
	})

	registry[domain.TypeEpisodeSplitLLM] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"episodes": []any{}}, nil
	})

	registry[domain.TypeStoryToScriptRun] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"scriptId": task.TargetID}, nil
	})

	registry[domain.TypeScriptToStoryboardRun] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"storyboardId": task.TargetID}, nil
	})

	registry[domain.TypeAICreateCharacter] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"characterId": task.TargetID}, nil
	})

	registry[domain.TypeAICreateLocation] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"locationId": task.TargetID}, nil
	})

	mediaHandler := func(resultKey string) TaskHandler {
		return func(ctx context.Context, task *domain.Task, payload map[string]any) (map[string]any, error) {
			return map[string]any{resultKey: task.TargetID}, nil
		}
	}
	registry[domain.TypeGenerateCharacterImage] = mediaHandler("imageUrl")
	registry[domain.TypeGenerateLocationImage] = mediaHandler("imageUrl")
	registry[domain.TypeGeneratePanelImage] = mediaHandler("imageUrl")
	registry[domain.TypeGeneratePanelVideo] = mediaHandler("videoUrl")
	registry[domain.TypeVoiceDesign] = mediaHandler("voiceId")
	registry[domain.TypeVoiceLineSynthesis] = mediaHandler("audioUrl")

	registry[domain.TypeAssetHubDesignChar] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"assetId": task.TargetID}, nil
	})
	registry[domain.TypeAssetHubDesignLocation] = llmHandler(func(ctx context.Context, task *domain.Task, payload map[string]any, opts *llmobserve.RuntimeOptions) (map[string]any, error) {
		return map[string]any{"assetId": task.TargetID}, nil
	})

	return registry
}

func decodePayload(raw []byte) map[string]any {
	payload := map[string]any{}
	if len(raw) == 0 {
		return payload
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}
	return payload
}
