package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"storyreel/internal/domain"
)

const channelPrefix = "task-events:project:"

// RedisEventBus fans task events out to live subscribers, one channel per
// project. Delivery is fire-and-forget; the TaskEvent table is the durable
// record.
type RedisEventBus struct {
	client *redis.Client
}

func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	return &RedisEventBus{client: client}
}

func (b *RedisEventBus) channelFor(projectID string) string {
	return channelPrefix + projectID
}

func (b *RedisEventBus) Publish(ctx context.Context, event domain.TaskEventMessage) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channelFor(event.ProjectID), payload).Err()
}

// Subscribe opens a continuous stream of events for one project
func (b *RedisEventBus) Subscribe(ctx context.Context, projectID string) (<-chan domain.TaskEventMessage, error) {
	pubsub := b.client.Subscribe(ctx, b.channelFor(projectID))

	msgChan := make(chan domain.TaskEventMessage)

	go func() {
		defer close(msgChan)
		defer pubsub.Close()
		for {
			msg, err := pubsub.ReceiveMessage(ctx)
			if err != nil {
				// ctx cancelled or connection torn down
				return
			}
			var event domain.TaskEventMessage
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				continue
			}
			select {
			case msgChan <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	return msgChan, nil
}
