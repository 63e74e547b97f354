// Package llmobserve is the boundary every API route goes through to start
// an LLM-backed operation: it decides sync vs async execution, validates
// runtime overrides, and forwards to the task submitter.
package llmobserve

import "storyreel/internal/domain"

// FlowMeta describes where a task type sits inside a multi-stage pipeline,
// presented to clients as "step N of M".
type FlowMeta struct {
	FlowID         string
	FlowStageIndex int
	FlowStageTotal int
	FlowStageTitle string
}

type flowStage struct {
	taskType domain.TaskType
	title    string
}

type flowDefinition struct {
	id     string
	stages []flowStage
}

var taskTypeLabels = map[domain.TaskType]string{
	domain.TypeAnalyzeNovel:           "Analyze novel",
	domain.TypeEpisodeSplitLLM:        "Split episodes",
	domain.TypeStoryToScriptRun:       "Story to script",
	domain.TypeScriptToStoryboardRun:  "Script to storyboard",
	domain.TypeAICreateCharacter:      "Create character",
	domain.TypeAICreateLocation:       "Create location",
	domain.TypeGenerateCharacterImage: "Character image",
	domain.TypeGenerateLocationImage:  "Location image",
	domain.TypeGeneratePanelImage:     "Panel image",
	domain.TypeGeneratePanelVideo:     "Panel video",
	domain.TypeVoiceDesign:            "Voice design",
	domain.TypeVoiceLineSynthesis:     "Voice lines",
	domain.TypeAssetHubDesignChar:     "Design character",
	domain.TypeAssetHubDesignLocation: "Design location",
}

func TaskTypeLabel(taskType domain.TaskType) string {
	if label, ok := taskTypeLabels[taskType]; ok {
		return label
	}
	return string(taskType)
}

// The novel-promotion generation flow is the one true multi-stage pipeline;
// every other task type runs as its own single-stage flow.
var flowDefinitions = []flowDefinition{
	{
		id: "novel_promotion_generation",
		stages: []flowStage{
			{taskType: domain.TypeStoryToScriptRun, title: taskTypeLabels[domain.TypeStoryToScriptRun]},
			{taskType: domain.TypeScriptToStoryboardRun, title: taskTypeLabels[domain.TypeScriptToStoryboardRun]},
		},
	},
}

var flowMetaByTaskType = buildFlowMetaIndex()

func buildFlowMetaIndex() map[domain.TaskType]FlowMeta {
	index := make(map[domain.TaskType]FlowMeta)
	for _, flow := range flowDefinitions {
		for i, stage := range flow.stages {
			index[stage.taskType] = FlowMeta{
				FlowID:         flow.id,
				FlowStageIndex: i + 1,
				FlowStageTotal: len(flow.stages),
				FlowStageTitle: stage.title,
			}
		}
	}
	return index
}

// FlowMetaForType returns the pipeline defaults for a task type, falling
// back to a single-stage flow.
func FlowMetaForType(taskType domain.TaskType) FlowMeta {
	if meta, ok := flowMetaByTaskType[taskType]; ok {
		return meta
	}
	return FlowMeta{
		FlowID:         "single:" + string(taskType),
		FlowStageIndex: 1,
		FlowStageTotal: 1,
		FlowStageTitle: TaskTypeLabel(taskType),
	}
}
