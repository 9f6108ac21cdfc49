// Package store wraps a Redis-compatible sorted-set keyed store with
// pub/sub, the contract SPEC_FULL.md §4.2 describes: rangeByScore,
// removeByScore, add, publish.
package store

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/makeev/ingestd/internal/model"
)

// Store is the contract both the Tick Streamer and the Bar Reconciler write
// through. Implementations must serialize writes per key themselves only to
// the extent the single-writer invariant in SPEC_FULL.md §5 already
// guarantees at the caller level; Store itself does no locking.
type Store interface {
	RangeByScore(ctx context.Context, key string, lo, hi int64) ([][]byte, error)
	RemoveByScore(ctx context.Context, key string, lo, hi int64) error
	Add(ctx context.Context, key string, member []byte, score int64) error
	Publish(ctx context.Context, channel string, payload []byte) error
	Ping(ctx context.Context) error
	Close() error
}

// RedisStore implements Store over github.com/redis/go-redis/v9.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore dials a Redis-compatible server at addr.
func NewRedisStore(addr string, db int, password string) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		DB:       db,
		Password: password,
	})
	return &RedisStore{client: client}
}

func (s *RedisStore) RangeByScore(ctx context.Context, key string, lo, hi int64) ([][]byte, error) {
	members, err := s.retryRange(ctx, key, lo, hi)
	if err != nil {
		return nil, &model.StoreError{Op: "rangeByScore", Err: err}
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

func (s *RedisStore) retryRange(ctx context.Context, key string, lo, hi int64) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: scoreString(lo),
		Max: scoreString(hi),
	}
	members, err := s.client.ZRangeByScore(ctx, key, opt).Result()
	if err == nil {
		return members, nil
	}
	// One retry after a short backoff absorbs a transient connection
	// blip without escalating straight to StoreError (§DOMAIN STACK).
	time.Sleep(100 * time.Millisecond)
	return s.client.ZRangeByScore(ctx, key, opt).Result()
}

func (s *RedisStore) RemoveByScore(ctx context.Context, key string, lo, hi int64) error {
	if err := s.client.ZRemRangeByScore(ctx, key, scoreString(lo), scoreString(hi)).Err(); err != nil {
		return &model.StoreError{Op: "removeByScore", Err: err}
	}
	return nil
}

func (s *RedisStore) Add(ctx context.Context, key string, member []byte, score int64) error {
	z := redis.Z{Score: float64(score), Member: string(member)}
	if err := s.client.ZAdd(ctx, key, z).Err(); err != nil {
		return &model.StoreError{Op: "add", Err: err}
	}
	return nil
}

func (s *RedisStore) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
		return &model.StoreError{Op: "publish", Err: err}
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return &model.StoreError{Op: "ping", Err: err}
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func scoreString(v int64) string {
	if v >= 1e10 {
		return "+inf"
	}
	if v <= -1e10 {
		return "-inf"
	}
	return strconv.FormatInt(v, 10)
}
