package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tri-star/chase-light-sub000/internal/domain"
)

// RedisRunQueue реализует очередь прогонов на базе Redis lists. Подходит для
// локальной разработки: подтверждений доставки у списков нет, ack не делает
// ничего.
type RedisRunQueue struct {
	client *redis.Client
	key    string
}

var _ domain.RunQueue = (*RedisRunQueue)(nil)

// NewRedisRunQueue создаёт очередь по указанному ключу.
func NewRedisRunQueue(client *redis.Client, key string) *RedisRunQueue {
	return &RedisRunQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь.
func (q *RedisRunQueue) Enqueue(ctx context.Context, job domain.DigestRunJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisRunQueue) Receive(ctx context.Context) (domain.DigestRunJob, domain.RunAckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.DigestRunJob{}, nil, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.DigestRunJob{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.DigestRunJob{}, nil, err
		}
		if len(res) != 2 {
			return domain.DigestRunJob{}, nil, errors.New("redis queue: unexpected response")
		}
		var job domain.DigestRunJob
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			return domain.DigestRunJob{}, nil, fmt.Errorf("decode job: %w", err)
		}
		ack := func(bool) error { return nil }
		return job, ack, nil
	}
}
