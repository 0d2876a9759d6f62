package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const (
	redisQueueKeyPrefix = "vkdispatch:queue:"
	redisChannelPrefix  = "vkdispatch:queue:notify:"
)

// Job is the wire shape pushed onto a Redis-backed queue: enough to
// reconstruct a method call on the popping side. Unlike the in-memory
// Queue, a RedisQueue cannot carry a live result sink across the network,
// so it only moves the call itself; whatever pops a Job is responsible
// for wiring its own local sink before handing the call to a worker.
type Job struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// RedisQueue is a distributed FIFO built on a Redis list, with a
// PUBLISH/SUBSCRIBE channel used to wake idle poppers instead of polling.
// Producers and consumers can run in different processes, with Redis
// absorbing backlog when consumers fall behind.
type RedisQueue struct {
	client  *redis.Client
	key     string
	channel string
}

// NewRedisQueue returns a RedisQueue that pushes to and pops from the
// named logical queue on client.
func NewRedisQueue(client *redis.Client, name string) *RedisQueue {
	return &RedisQueue{
		client:  client,
		key:     redisQueueKeyPrefix + name,
		channel: redisChannelPrefix + name,
	}
}

// Push enqueues a Job and publishes a wake signal for any Pop call
// currently blocked waiting on it.
func (q *RedisQueue) Push(ctx context.Context, job Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("queue: encode job: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("queue: lpush: %w", err)
	}
	return q.client.Publish(ctx, q.channel, "1").Err()
}

// Pop blocks until a Job is available or ctx is done. It subscribes to
// the queue's notify channel before checking the list, so a Job pushed
// between the check and the subscription is never missed: either RPop
// picks it up directly, or the Publish that accompanied it arrives on
// the already-open subscription. There is no polling loop: an idle Pop
// sits on the subscription's channel until woken.
func (q *RedisQueue) Pop(ctx context.Context) (Job, error) {
	for {
		sub := q.client.Subscribe(ctx, q.channel)
		msgCh := sub.Channel()

		job, ok, err := q.tryPop(ctx)
		if err != nil {
			sub.Close()
			return Job{}, err
		}
		if ok {
			sub.Close()
			return job, nil
		}

		select {
		case <-msgCh:
			sub.Close()
		case <-ctx.Done():
			sub.Close()
			return Job{}, ctx.Err()
		}
	}
}

// tryPop does one non-blocking RPOP attempt, returning ok=false when the
// list is currently empty rather than treating that as an error.
func (q *RedisQueue) tryPop(ctx context.Context) (job Job, ok bool, err error) {
	result, err := q.client.RPop(ctx, q.key).Result()
	if err != nil {
		if err == redis.Nil {
			return Job{}, false, nil
		}
		return Job{}, false, fmt.Errorf("queue: rpop: %w", err)
	}
	if err := json.Unmarshal([]byte(result), &job); err != nil {
		return Job{}, false, fmt.Errorf("queue: decode job: %w", err)
	}
	return job, true, nil
}

// Len reports the current backlog length, for queue-depth metrics.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
