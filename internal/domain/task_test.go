package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusClassification(t *testing.T) {
	assert.True(t, StatusQueued.IsActive())
	assert.True(t, StatusProcessing.IsActive())
	assert.False(t, StatusCompleted.IsActive())

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.True(t, StatusDismissed.IsTerminal())
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestTerminalEventForStatus(t *testing.T) {
	event, ok := TerminalEventForStatus(StatusCompleted)
	assert.True(t, ok)
	assert.Equal(t, EventCompleted, event)

	event, ok = TerminalEventForStatus(StatusDismissed)
	assert.True(t, ok)
	assert.Equal(t, EventDismissed, event)

	_, ok = TerminalEventForStatus(StatusProcessing)
	assert.False(t, ok)
}

func TestNewTaskStartsQueued(t *testing.T) {
	task := NewTask("user-1", "project-1", TypeAnalyzeNovel, "novel", "novel-1")
	assert.Equal(t, StatusQueued, task.Status)
	assert.NotEqual(t, task.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Nil(t, task.DedupeKey)
}
