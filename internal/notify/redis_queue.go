package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/orion-services/activity/internal/util"

	"github.com/redis/go-redis/v9"
)

const DefaultQueueKey = "orion:notifications"

// Envelope is the message pushed to the broker list.
type Envelope struct {
	ID         string    `json:"id"`
	Request    Request   `json:"request"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// RedisQueue hands notifications to a broker list for an out-of-process
// mailer. It owns its connection: create it at startup and Close it on exit.
type RedisQueue struct {
	client *redis.Client
	key    string
}

// NewRedisQueue connects to redisURL and verifies the connection.
func NewRedisQueue(redisURL, key string) (*RedisQueue, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisQueueWithClient(client, key), nil
}

// NewRedisQueueWithClient wraps an existing client.
func NewRedisQueueWithClient(client *redis.Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultQueueKey
	}
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) SendNotification(ctx context.Context, req Request) (Response, error) {
	envelope := Envelope{ID: util.NewID("ntf"), Request: req, EnqueuedAt: time.Now().UTC()}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return Response{}, fmt.Errorf("marshal envelope: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return Response{}, fmt.Errorf("enqueue notification: %w", err)
	}
	return Response{ID: envelope.ID, Status: "QUEUED"}, nil
}

// Pop removes the oldest queued envelope, waiting up to timeout. It returns
// false when nothing arrived in time.
func (q *RedisQueue) Pop(ctx context.Context, timeout time.Duration) (Envelope, bool, error) {
	result, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return Envelope{}, false, nil
	}
	if err != nil {
		return Envelope{}, false, fmt.Errorf("dequeue notification: %w", err)
	}
	var envelope Envelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		return Envelope{}, false, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return envelope, true, nil
}

// Len returns the number of queued envelopes.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

func (q *RedisQueue) Close() error {
	return q.client.Close()
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}
