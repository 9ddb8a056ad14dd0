package queue

import (
	"context"
	"errors"
	"math"
)

// ErrKeyNotFound is returned by Store.Get for a missing key.
var ErrKeyNotFound = errors.New("key not found")

// Store is the shared keyed store behind a queue: plain values for job
// payloads and flags, sorted sets for the indices. Every method must be
// safe for concurrent use, and ZPopMin must be atomic across every process
// sharing the store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Del(ctx context.Context, keys ...string) error

	ZAdd(ctx context.Context, key string, score float64, member string) error
	// ZRem removes members and returns how many were present. Callers use
	// the count to claim a member exactly once.
	ZRem(ctx context.Context, key string, members ...string) (int64, error)
	// ZPopMin removes and returns the lowest-scored member.
	ZPopMin(ctx context.Context, key string) (member string, ok bool, err error)
	// ZRange returns members by rank, inclusive; negative indices count from the end.
	ZRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	// ZRangeByScore returns members with min <= score <= max in score order.
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)
	ZCard(ctx context.Context, key string) (int64, error)
}

// negInf is the open lower bound for ZRangeByScore.
var negInf = math.Inf(-1)

// keys builds the store keys for one queue: queue:<name>:<index>.
type keys struct {
	prefix string
}

func newKeys(queue string) keys {
	return keys{prefix: "queue:" + queue + ":"}
}

func (k keys) index(s Status) string { return k.prefix + string(s) }
func (k keys) job(id string) string  { return k.prefix + "job:" + id }
func (k keys) jobs() string          { return k.prefix + "jobs" }
func (k keys) paused() string        { return k.prefix + "paused" }

// rankStride separates priority classes in the waiting index. Millisecond
// timestamps stay below it until the year 2286.
const rankStride = 1e13

func waitingScore(p Priority, enqueuedMs int64) float64 {
	return float64(p.Rank())*rankStride + float64(enqueuedMs)
}
