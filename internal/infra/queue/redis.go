package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"stream-recommender/internal/domain"
	"stream-recommender/internal/infra/metrics"
)

// RedisJobQueue реализует очередь задач на базе Redis lists.
// Полученная задача лежит в списке processing до подтверждения.
type RedisJobQueue struct {
	client     redis.Cmdable
	key        string
	processing string
	timeout    time.Duration
}

var _ domain.JobQueue = (*RedisJobQueue)(nil)

// NewRedisJobQueue создаёт очередь по указанному ключу.
func NewRedisJobQueue(client redis.Cmdable, key string) *RedisJobQueue {
	return &RedisJobQueue{
		client:     client,
		key:        key,
		processing: key + ":processing",
		timeout:    time.Second,
	}
}

// Enqueue публикует задачу в очередь.
func (q *RedisJobQueue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// Receive блокирующе читает задачу из очереди.
func (q *RedisJobQueue) Receive(ctx context.Context) (domain.Job, domain.AckFunc, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.Job{}, nil, err
		}

		payload, err := q.client.BLMove(ctx, q.key, q.processing, "RIGHT", "LEFT", q.timeout).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if ctx.Err() != nil {
					return domain.Job{}, nil, ctx.Err()
				}
				continue
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return domain.Job{}, nil, err
		}

		var job domain.Job
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			// Битую задачу повторять бессмысленно.
			q.client.LRem(context.WithoutCancel(ctx), q.processing, 1, payload)
			return domain.Job{}, nil, fmt.Errorf("decode job: %w", err)
		}
		if job.Attempt == 0 {
			job.Attempt = 1
		}
		return job, q.acker(ctx, job, payload), nil
	}
}

func (q *RedisJobQueue) acker(ctx context.Context, job domain.Job, payload string) domain.AckFunc {
	ctx = context.WithoutCancel(ctx)
	return func(success bool) error {
		start := time.Now()
		if success {
			err := q.client.LRem(ctx, q.processing, 1, payload).Err()
			metrics.ObserveNetworkRequest("redis", "ack", q.key, start, err)
			return err
		}
		job.Attempt++
		retry, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("marshal job: %w", err)
		}
		_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.LRem(ctx, q.processing, 1, payload)
			pipe.LPush(ctx, q.key, retry)
			return nil
		})
		metrics.ObserveNetworkRequest("redis", "nack", q.key, start, err)
		return err
	}
}

// Recover возвращает в очередь задачи, оставшиеся в processing после аварийной остановки.
func (q *RedisJobQueue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.key, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}
