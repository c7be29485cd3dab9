package queue

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisQueue is a Queue backed by a single Redis list, letting multiple
// runner processes share one work queue. Enqueue is LPUSH; Dequeue is a
// blocking BRPOP so idle workers don't poll.
type RedisQueue struct {
	client *goredis.Client
	key    string
}

var _ Queue = (*RedisQueue)(nil)

// NewRedisQueue wraps an existing client, scoping all operations to key.
func NewRedisQueue(client *goredis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, job Job) error {
	payload, err := encode(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return nil
}

// Dequeue blocks on BRPOP with a bounded poll interval so it still
// respects ctx cancellation promptly; go-redis's BRPOP otherwise blocks
// past a cancelled context until Redis's own timeout elapses.
func (q *RedisQueue) Dequeue(ctx context.Context) (Job, error) {
	const pollTimeout = 2 * time.Second

	for {
		select {
		case <-ctx.Done():
			return Job{}, ErrEmpty
		default:
		}

		result, err := q.client.BRPop(ctx, pollTimeout, q.key).Result()
		if err == goredis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return Job{}, ErrEmpty
			}
			return Job{}, fmt.Errorf("queue: brpop: %w", err)
		}

		// BRPop returns [key, value].
		if len(result) != 2 {
			continue
		}
		return decode(result[1])
	}
}
