package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const shardCount = 32

type counter struct {
	start time.Time
	count int
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*counter
}

// Memory is a sharded in-process fixed-window limiter. Expired windows are
// dropped by Sweep, so memory stays bounded by the keys seen in one window.
type Memory struct {
	limit  int
	window time.Duration
	clock  func() time.Time
	shards [shardCount]*shard
}

func NewMemory(limit int, window time.Duration, clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	m := &Memory{limit: limit, window: window, clock: clock}
	for i := range m.shards {
		m.shards[i] = &shard{windows: make(map[string]*counter)}
	}
	return m
}

func (m *Memory) shardFor(key string) *shard {
	return m.shards[xxhash.Sum64String(key)%shardCount]
}

func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.clock()
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !now.Before(w.start.Add(m.window)) {
		w = &counter{start: now}
		s.windows[key] = w
	}
	w.count++
	return decide(w.count, m.limit, w.start.Add(m.window)), nil
}

// Sweep removes every expired window and returns how many were dropped.
func (m *Memory) Sweep() int {
	now := m.clock()
	removed := 0
	for _, s := range m.shards {
		s.mu.Lock()
		for key, w := range s.windows {
			if !now.Before(w.start.Add(m.window)) {
				delete(s.windows, key)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len is the number of live windows.
func (m *Memory) Len() int {
	n := 0
	for _, s := range m.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

// StartSweeper runs Sweep every interval until ctx is done.
func (m *Memory) StartSweeper(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := m.Sweep(); n > 0 {
					log.Debug("Rate limit windows swept", zap.Int("removed", n))
				}
			}
		}
	}()
}
