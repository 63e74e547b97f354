package redis

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupQueue(t *testing.T) *RedisQueue {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisQueue(client)
}

func TestQueuePopsLowestPriorityFirst(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-low", 10))
	require.NoError(t, queue.Enqueue(ctx, "task-urgent", 1))
	require.NoError(t, queue.Enqueue(ctx, "task-mid", 5))

	first, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-urgent", first)

	second, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-mid", second)

	third, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-low", third)
}

func TestQueueEnqueueIsIdempotentPerTask(t *testing.T) {
	queue := setupQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, "task-1", 3))
	require.NoError(t, queue.Enqueue(ctx, "task-1", 1))

	first, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, "task-1", first, "re-enqueue updates the score, not the membership")
}
