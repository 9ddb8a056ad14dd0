package queue

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string][]byte
	sets   map[string]map[string]float64
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string][]byte),
		sets:   make(map[string]map[string]float64),
	}
}

var _ Store = (*MemoryStore)(nil)

// Get returns a copy of the value at key, or ErrKeyNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return slices.Clone(v), nil
}

// Set stores a copy of value under key.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	s.values[key] = slices.Clone(value)
	s.mu.Unlock()
	return nil
}

// Del removes keys and any sorted sets stored under them.
func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.sets, k)
	}
	s.mu.Unlock()
	return nil
}

// ZAdd adds member to the set at key or updates its score.
func (s *MemoryStore) ZAdd(_ context.Context, key string, score float64, member string) error {
	s.mu.Lock()
	set, ok := s.sets[key]
	if !ok {
		set = make(map[string]float64)
		s.sets[key] = set
	}
	set[member] = score
	s.mu.Unlock()
	return nil
}

// ZRem removes members and returns how many were present.
func (s *MemoryStore) ZRem(_ context.Context, key string, members ...string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.sets[key]
	var n int64
	for _, m := range members {
		if _, ok := set[m]; ok {
			delete(set, m)
			n++
		}
	}
	return n, nil
}

// ZPopMin removes and returns the lowest-scored member; ok is false
// when the set is empty.
func (s *MemoryStore) ZPopMin(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked(key)
	if len(sorted) == 0 {
		return "", false, nil
	}
	delete(s.sets[key], sorted[0].member)
	return sorted[0].member, true, nil
}

// ZRange returns members ranked start through stop. Negative indices
// count from the end.
func (s *MemoryStore) ZRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sorted := s.sortedLocked(key)
	n := int64(len(sorted))
	if start < 0 {
		start = max(n+start, 0)
	}
	if stop < 0 {
		stop = n + stop
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop {
		return []string{}, nil
	}
	out := make([]string, 0, stop-start+1)
	for _, e := range sorted[start : stop+1] {
		out = append(out, e.member)
	}
	return out, nil
}

// ZRangeByScore returns members scored within [min, max].
func (s *MemoryStore) ZRangeByScore(_ context.Context, key string, min, max float64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.sortedLocked(key) {
		if e.score >= min && e.score <= max {
			out = append(out, e.member)
		}
	}
	return out, nil
}

// ZCard returns the size of the set at key.
func (s *MemoryStore) ZCard(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.sets[key])), nil
}

type scored struct {
	member string
	score  float64
}

// sortedLocked orders by score, then member, like a Redis sorted set.
func (s *MemoryStore) sortedLocked(key string) []scored {
	set := s.sets[key]
	out := make([]scored, 0, len(set))
	for m, sc := range set {
		out = append(out, scored{member: m, score: sc})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score < out[j].score
		}
		return out[i].member < out[j].member
	})
	return out
}
