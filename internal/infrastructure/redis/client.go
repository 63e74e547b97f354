package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

func NewRedisClient(ctx context.Context, address, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
		PoolSize: 100,
	})

	// Ping to test connection on startup
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return client, nil
}
