package redis

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	goredis "github.com/redis/go-redis/v9"

	"github.com/kbukum/taskguard/queue"
)

// QueueStore implements queue.Store on Redis strings and sorted sets.
// ZPOPMIN is atomic on the server, so any number of processes may pop from
// the same waiting index.
type QueueStore struct {
	rdb    goredis.Cmdable
	prefix string
}

var _ queue.Store = (*QueueStore)(nil)

// StoreOption configures a QueueStore.
type StoreOption func(*QueueStore)

// WithKeyPrefix prepends prefix to every key the store touches.
func WithKeyPrefix(prefix string) StoreOption {
	return func(s *QueueStore) { s.prefix = prefix }
}

// NewQueueStore creates a store on rdb.
func NewQueueStore(rdb goredis.Cmdable, opts ...StoreOption) *QueueStore {
	s := &QueueStore{rdb: rdb}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *QueueStore) key(k string) string { return s.prefix + k }

// Get maps redis.Nil to queue.ErrKeyNotFound.
func (s *QueueStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, queue.ErrKeyNotFound
	}
	return b, err
}

// Set writes value with no expiry.
func (s *QueueStore) Set(ctx context.Context, key string, value []byte) error {
	return s.rdb.Set(ctx, s.key(key), value, 0).Err()
}

// Del deletes keys in a single DEL.
func (s *QueueStore) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	return s.rdb.Del(ctx, full...).Err()
}

// ZAdd runs ZADD with one member.
func (s *QueueStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	return s.rdb.ZAdd(ctx, s.key(key), goredis.Z{Score: score, Member: member}).Err()
}

// ZRem returns the number of members Redis actually removed.
func (s *QueueStore) ZRem(ctx context.Context, key string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	args := make([]any, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.rdb.ZRem(ctx, s.key(key), args...).Result()
}

// ZPopMin pops one member with ZPOPMIN; ok is false on an empty set.
func (s *QueueStore) ZPopMin(ctx context.Context, key string) (string, bool, error) {
	zs, err := s.rdb.ZPopMin(ctx, s.key(key), 1).Result()
	if err != nil {
		return "", false, err
	}
	if len(zs) == 0 {
		return "", false, nil
	}
	member, ok := zs[0].Member.(string)
	if !ok {
		return "", false, fmt.Errorf("unexpected sorted set member %T", zs[0].Member)
	}
	return member, true, nil
}

// ZRange runs ZRANGE by rank.
func (s *QueueStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.rdb.ZRange(ctx, s.key(key), start, stop).Result()
}

// ZRangeByScore runs ZRANGEBYSCORE with inclusive bounds.
func (s *QueueStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.rdb.ZRangeByScore(ctx, s.key(key), &goredis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
}

// ZCard runs ZCARD.
func (s *QueueStore) ZCard(ctx context.Context, key string) (int64, error) {
	return s.rdb.ZCard(ctx, s.key(key)).Result()
}

func formatScore(f float64) string {
	switch {
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsInf(f, 1):
		return "+inf"
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}
