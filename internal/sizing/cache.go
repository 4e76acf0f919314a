package sizing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// Snapshot lazily loads a value and publishes it as an immutable snapshot.
// Readers never block on each other; a single writer at a time refreshes the
// value under mu and swaps the pointer. Published values must not be mutated.
type Snapshot[T any] struct {
	name  string
	load  func(ctx context.Context) (T, error)
	stale func(T) bool

	mu  sync.Mutex
	cur atomic.Pointer[T]
}

// NewSnapshot returns a Snapshot that calls load on first use, on force, and
// whenever stale reports the current value unusable. stale may be nil.
func NewSnapshot[T any](name string, load func(ctx context.Context) (T, error), stale func(T) bool) *Snapshot[T] {
	return &Snapshot[T]{name: name, load: load, stale: stale}
}

// Get returns the current snapshot, loading it when absent, stale, or when
// force is set.
func (s *Snapshot[T]) Get(ctx context.Context, force bool) (T, error) {
	if !force {
		if v, ok := s.usable(); ok {
			return v, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if !force {
		if v, ok := s.usable(); ok {
			return v, nil
		}
	}

	v, err := s.load(ctx)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("sizing: refresh %s: %w", s.name, err)
	}
	s.cur.Store(&v)
	return v, nil
}

// Set publishes v directly. Used to seed the cache.
func (s *Snapshot[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cur.Store(&v)
}

func (s *Snapshot[T]) usable() (T, bool) {
	p := s.cur.Load()
	if p == nil {
		var zero T
		return zero, false
	}
	if s.stale != nil && s.stale(*p) {
		return *p, false
	}
	return *p, true
}

// NewFundCache wraps a balance loader. A non-positive cached balance is treated
// as stale and reloaded on the next read.
func NewFundCache(load func(ctx context.Context) (float64, error)) *Snapshot[float64] {
	return NewSnapshot("funds", load, func(v float64) bool { return v <= 0 })
}

// NewLeverageCache wraps a per-instrument leverage loader.
func NewLeverageCache(load func(ctx context.Context) (map[string]float64, error)) *Snapshot[map[string]float64] {
	return NewSnapshot("leverage", load, nil)
}
