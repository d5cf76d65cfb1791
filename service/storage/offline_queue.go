package storage

import (
	"context"
	"time"

	"CragProject/module/realtime/model"
	"CragProject/tools/errs"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Offline queue: one List per user.

type QueueOptions struct {
	Prefix     string        // key prefix, default "crag:offline:"
	MaxPerUser int           // keep the newest N, 0 = unbounded
	TTL        time.Duration // expire idle queues, 0 = never
}

// RedisQueue keeps each user's undelivered events in a Redis list, oldest at
// the head.
type RedisQueue struct {
	rdb  redis.Cmdable
	opts QueueOptions
	now  func() time.Time
}

func NewRedisQueue(rdb redis.Cmdable, opts QueueOptions) *RedisQueue {
	if opts.Prefix == "" {
		opts.Prefix = "crag:offline:"
	}
	return &RedisQueue{rdb: rdb, opts: opts, now: time.Now}
}

func (q *RedisQueue) key(userID string) string { return q.opts.Prefix + userID }

func (q *RedisQueue) Enqueue(ctx context.Context, userID, event string, payload []byte) error {
	if q.rdb == nil {
		return errs.ErrPersistence.WrapMsg("redis not initialized")
	}
	b, err := json.Marshal(model.QueuedEvent{
		UserID:     userID,
		Event:      event,
		Payload:    payload,
		EnqueuedAt: q.now().UTC(),
	})
	if err != nil {
		return errs.WrapMsg(err, "encode queued event", "event", event)
	}
	key := q.key(userID)
	pipe := q.rdb.TxPipeline()
	pipe.RPush(ctx, key, b)
	if q.opts.MaxPerUser > 0 {
		// rolling window: keep the newest MaxPerUser
		pipe.LTrim(ctx, key, int64(-q.opts.MaxPerUser), -1)
	}
	if q.opts.TTL > 0 {
		pipe.Expire(ctx, key, q.opts.TTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errs.WrapMsg(err, "redis enqueue", "user", userID)
	}
	return nil
}

// Flush reads and deletes the list inside one MULTI, so a concurrent flush
// sees either everything or nothing.
func (q *RedisQueue) Flush(ctx context.Context, userID string) ([]model.QueuedEvent, error) {
	if q.rdb == nil {
		return nil, errs.ErrPersistence.WrapMsg("redis not initialized")
	}
	key := q.key(userID)
	var lr *redis.StringSliceCmd
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lr = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, errs.WrapMsg(err, "redis flush", "user", userID)
	}
	vals := lr.Val()
	out := make([]model.QueuedEvent, 0, len(vals))
	for _, v := range vals {
		var ev model.QueuedEvent
		if err := json.Unmarshal([]byte(v), &ev); err != nil {
			// a corrupt entry must not block the rest of the queue
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Len reports the queue length for userID.
func (q *RedisQueue) Len(ctx context.Context, userID string) (int64, error) {
	return q.rdb.LLen(ctx, q.key(userID)).Result()
}
