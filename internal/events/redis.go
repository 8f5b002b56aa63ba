package events

import (
	"context"
	"encoding/json"
	"fmt"

	redis "github.com/redis/go-redis/v9"
)

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
	Close() error
}

// RedisSink publishes every event as JSON on a Redis pub/sub channel
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink connects to Redis and verifies the connection
func NewRedisSink(ctx context.Context, addr, password string, db int, channel string) (*RedisSink, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &RedisSink{client: client, channel: channel}, nil
}

// Send implements Sink
func (s *RedisSink) Send(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, s.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", s.channel, err)
	}
	return nil
}

// Close implements Sink
func (s *RedisSink) Close() error {
	return s.client.Close()
}
