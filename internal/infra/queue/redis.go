package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"adinventory/internal/domain"
	"adinventory/internal/infra/metrics"
)

// RedisOpsQueue is an operator task queue on a Redis list.
type RedisOpsQueue struct {
	client *redis.Client
	key    string
}

// NewRedisOpsQueue creates a queue stored under key.
func NewRedisOpsQueue(client *redis.Client, key string) *RedisOpsQueue {
	return &RedisOpsQueue{client: client, key: key}
}

// Enqueue pushes a task.
func (q *RedisOpsQueue) Enqueue(ctx context.Context, task domain.OpsTask) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push task: %w", err)
	}
	return nil
}

// Receive blocks until a task is available. A negative ack pushes the task back.
func (q *RedisOpsQueue) Receive(ctx context.Context) (domain.OpsTask, domain.OpsAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.OpsTask{}, nil, err
		}
		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.OpsTask{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.OpsTask{}, nil, err
		}
		if len(res) != 2 {
			return domain.OpsTask{}, nil, errors.New("redis queue: unexpected response")
		}
		raw := res[1]
		var task domain.OpsTask
		if err := json.Unmarshal([]byte(raw), &task); err != nil {
			return domain.OpsTask{}, nil, fmt.Errorf("decode task: %w", err)
		}
		ack := func(success bool) error {
			if success {
				return nil
			}
			return q.client.RPush(context.Background(), q.key, raw).Err()
		}
		return task, ack, nil
	}
}
