// Package billing carries the cost descriptor attached to billable tasks.
// The task core stores the descriptor opaquely; charging and settlement
// happen in a downstream collaborator.
package billing

import (
	"encoding/json"

	"gorm.io/datatypes"

	"storyreel/internal/domain"
)

type Info struct {
	Billable bool   `json:"billable"`
	Meter    string `json:"meter,omitempty"`
	Units    int    `json:"units,omitempty"`
	Status   string `json:"status,omitempty"`
}

// meters maps billable task types to their metering descriptor. Types
// absent from the table are free.
var meters = map[domain.TaskType]Info{
	domain.TypeAnalyzeNovel:           {Billable: true, Meter: "llm.analysis", Units: 1},
	domain.TypeEpisodeSplitLLM:        {Billable: true, Meter: "llm.analysis", Units: 1},
	domain.TypeStoryToScriptRun:       {Billable: true, Meter: "llm.generation", Units: 1},
	domain.TypeScriptToStoryboardRun:  {Billable: true, Meter: "llm.generation", Units: 1},
	domain.TypeAICreateCharacter:      {Billable: true, Meter: "llm.generation", Units: 1},
	domain.TypeAICreateLocation:       {Billable: true, Meter: "llm.generation", Units: 1},
	domain.TypeGenerateCharacterImage: {Billable: true, Meter: "media.image", Units: 1},
	domain.TypeGenerateLocationImage:  {Billable: true, Meter: "media.image", Units: 1},
	domain.TypeGeneratePanelImage:     {Billable: true, Meter: "media.image", Units: 1},
	domain.TypeGeneratePanelVideo:     {Billable: true, Meter: "media.video", Units: 1},
	domain.TypeVoiceDesign:            {Billable: true, Meter: "media.audio", Units: 1},
	domain.TypeVoiceLineSynthesis:     {Billable: true, Meter: "media.audio", Units: 1},
	domain.TypeAssetHubDesignChar:     {Billable: true, Meter: "llm.generation", Units: 1},
	domain.TypeAssetHubDesignLocation: {Billable: true, Meter: "llm.generation", Units: 1},
}

func IsBillableType(taskType domain.TaskType) bool {
	info, ok := meters[taskType]
	return ok && info.Billable
}

// DefaultInfo builds the descriptor attached at submission time, or nil
// for non-billable types.
func DefaultInfo(taskType domain.TaskType) datatypes.JSON {
	info, ok := meters[taskType]
	if !ok || !info.Billable {
		return nil
	}
	info.Status = "pending"
	raw, err := json.Marshal(info)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
