package llmobserve

import (
	"fmt"
	"strings"
)

// RuntimeOptions is the validated subset of LLM overrides a request body may
// carry. Nil pointer fields mean "not supplied".
type RuntimeOptions struct {
	Model           string
	Reasoning       *bool
	ReasoningEffort string
	Temperature     *float64
}

var allowedReasoningEfforts = []string{"minimal", "low", "medium", "high"}

func isAllowedReasoningEffort(value string) bool {
	for _, effort := range allowedReasoningEfforts {
		if value == effort {
			return true
		}
	}
	return false
}

// ParseLLMRuntimeOptions validates every present field independently and
// fails the whole parse on the first violation. Malformed overrides never
// degrade to defaults silently.
func ParseLLMRuntimeOptions(raw map[string]any) (*RuntimeOptions, error) {
	options := &RuntimeOptions{}
	if raw == nil {
		return options, nil
	}

	if value, ok := raw["model"]; ok {
		text, isString := value.(string)
		if !isString {
			return nil, fmt.Errorf("model must be a string")
		}
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil, fmt.Errorf("model must be a non-empty string")
		}
		options.Model = trimmed
	}

	if value, ok := raw["reasoning"]; ok {
		flag, isBool := value.(bool)
		if !isBool {
			return nil, fmt.Errorf("reasoning must be a boolean")
		}
		options.Reasoning = &flag
	}

	if value, ok := raw["reasoningEffort"]; ok {
		text, isString := value.(string)
		if !isString || !isAllowedReasoningEffort(text) {
			return nil, fmt.Errorf("reasoningEffort must be one of %s", strings.Join(allowedReasoningEfforts, ", "))
		}
		options.ReasoningEffort = text
	}

	if value, ok := raw["temperature"]; ok {
		number, isNumber := toFloat(value)
		if !isNumber || number < 0 || number > 2 {
			return nil, fmt.Errorf("temperature must be a number between 0 and 2")
		}
		options.Temperature = &number
	}

	return options, nil
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
