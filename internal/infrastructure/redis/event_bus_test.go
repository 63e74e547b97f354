package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyreel/internal/domain"
)

func setupBus(t *testing.T) *RedisEventBus {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisEventBus(client)
}

func TestEventBusDeliversToProjectChannel(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := bus.Subscribe(ctx, "project-1")
	require.NoError(t, err)

	// give the subscriber goroutine a beat to attach
	time.Sleep(50 * time.Millisecond)

	sent := domain.TaskEventMessage{
		TaskID:     uuid.New(),
		ProjectID:  "project-1",
		UserID:     "user-1",
		Type:       domain.EventCompleted,
		TaskType:   domain.TypeAnalyzeNovel,
		TargetType: "novel",
		TargetID:   "novel-1",
		Ts:         time.Now(),
	}
	require.NoError(t, bus.Publish(ctx, sent))

	select {
	case received := <-events:
		assert.Equal(t, sent.TaskID, received.TaskID)
		assert.Equal(t, domain.EventCompleted, received.Type)
		assert.Equal(t, "novel-1", received.TargetID)
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestEventBusIsolatesProjects(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	other, err := bus.Subscribe(ctx, "project-other")
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, bus.Publish(ctx, domain.TaskEventMessage{
		TaskID:    uuid.New(),
		ProjectID: "project-1",
		Type:      domain.EventCreated,
	}))

	select {
	case event, open := <-other:
		if open {
			t.Fatalf("unexpected cross-project delivery: %+v", event)
		}
	case <-time.After(200 * time.Millisecond):
		// nothing arrived, as expected
	}
}

func TestEventBusSubscribeClosesOnCancel(t *testing.T) {
	bus := setupBus(t)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := bus.Subscribe(ctx, "project-1")
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-events:
		assert.False(t, open, "channel must close after cancel")
	case <-time.After(2 * time.Second):
		t.Fatal("channel did not close after cancel")
	}
}
