package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// RedisQueue is a priority queue over a sorted set. Members are task IDs,
// the score is the submission priority: lower scores pop first, ties break
// lexically by member which keeps ordering deterministic.
type RedisQueue struct {
	client    *redis.Client
	queueName string
}

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:    client,
		queueName: "storyreel:queue:tasks",
	}
}

func (q *RedisQueue) Enqueue(ctx context.Context, taskID string, priority int) error {
	return q.client.ZAdd(ctx, q.queueName, redis.Z{
		Score:  float64(priority),
		Member: taskID,
	}).Err()
}

// Dequeue blocks until a task ID is available and removes the lowest-score
// member.
func (q *RedisQueue) Dequeue(ctx context.Context) (string, error) {
	// 0 means "wait forever until an item appears"
	result, err := q.client.BZPopMin(ctx, 0, q.queueName).Result()
	if err != nil {
		return "", err
	}
	member, _ := result.Member.(string)
	return member, nil
}
