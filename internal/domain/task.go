package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type TaskStatus string

const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusDismissed  TaskStatus = "dismissed"
)

// IsTerminal reports whether execution is over for this status.
// failed still admits the one post-terminal transition failed->dismissed.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusDismissed
}

func (s TaskStatus) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

type TaskType string

const (
	TypeAnalyzeNovel           TaskType = "analyze_novel"
	TypeEpisodeSplitLLM        TaskType = "episode_split_llm"
	TypeStoryToScriptRun       TaskType = "story_to_script_run"
	TypeScriptToStoryboardRun  TaskType = "script_to_storyboard_run"
	TypeAICreateCharacter      TaskType = "ai_create_character"
	TypeAICreateLocation       TaskType = "ai_create_location"
	TypeGenerateCharacterImage TaskType = "generate_character_image"
	TypeGenerateLocationImage  TaskType = "generate_location_image"
	TypeGeneratePanelImage     TaskType = "generate_panel_image"
	TypeGeneratePanelVideo     TaskType = "generate_panel_video"
	TypeVoiceDesign            TaskType = "voice_design"
	TypeVoiceLineSynthesis     TaskType = "voice_line_synthesis"
	TypeAssetHubDesignChar     TaskType = "asset_hub_ai_design_character"
	TypeAssetHubDesignLocation TaskType = "asset_hub_ai_design_location"
)

// GlobalAssetProjectID is the pseudo-project used for cross-project,
// user-scoped assets that have no natural project home.
const GlobalAssetProjectID = "global-asset-hub"

type Task struct {
	ID uuid.UUID `gorm:"type:uuid;primary_key"`

	// DedupeKey is globally unique while the task holds it. Terminal
	// transitions surrender the key so an identical submission can create
	// a fresh task afterwards.
	DedupeKey *string `gorm:"type:varchar(255);uniqueIndex"`

	Type       TaskType `gorm:"type:varchar(64);index;not null"`
	TargetType string   `gorm:"type:varchar(64);index:idx_tasks_target;not null"`
	TargetID   string   `gorm:"type:varchar(64);index:idx_tasks_target;not null"`
	ProjectID  string   `gorm:"type:varchar(64);index;not null"`
	EpisodeID  *string  `gorm:"type:varchar(64)"`
	UserID     string   `gorm:"type:varchar(64);index;not null"`

	Status   TaskStatus `gorm:"type:varchar(20);index;default:'queued'"`
	Priority int        `gorm:"default:0"`
	Progress int        `gorm:"default:0"`

	Payload     datatypes.JSON `gorm:"type:jsonb"`
	Result      datatypes.JSON `gorm:"type:jsonb"`
	BillingInfo datatypes.JSON `gorm:"type:jsonb"`

	FlowID         string `gorm:"type:varchar(128)"`
	FlowStageIndex int    `gorm:"default:1"`
	FlowStageTotal int    `gorm:"default:1"`
	FlowStageTitle string `gorm:"type:varchar(255)"`

	ErrorCode    string `gorm:"type:varchar(80)"`
	ErrorMessage string `gorm:"type:varchar(2000)"`

	EnqueueAttempts  int    `gorm:"default:0"`
	LastEnqueueError string `gorm:"type:varchar(500)"`

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	FinishedAt  *time.Time
	HeartbeatAt *time.Time
}

func NewTask(userID, projectID string, taskType TaskType, targetType, targetID string) *Task {
	return &Task{
		ID:         uuid.New(),
		UserID:     userID,
		ProjectID:  projectID,
		Type:       taskType,
		TargetType: targetType,
		TargetID:   targetID,
		Status:     StatusQueued,
		CreatedAt:  time.Now(),
	}
}
