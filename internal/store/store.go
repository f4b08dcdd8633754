package store

import (
	"context"
	"sync"
	"time"

	"minikv/internal/logs"
	"minikv/internal/metrics"
	"minikv/internal/ttl"
)

// DefaultReapInterval is how often the background reaper sweeps.
const DefaultReapInterval = time.Second

// Store is a concurrency-safe in-memory key–value store with TTL expiry.
//
// Design principles:
//   - One mutex guards the map; every operation, the reaper sweep and
//     snapshot export/import take it exclusively.
//   - Liveness is evaluated against a single timestamp per operation.
//   - Each Store owns exactly one reaper goroutine, started by NewStore
//     and stopped (and awaited) by Close.
type Store struct {
	mu      sync.Mutex
	data    map[string]Entry
	metrics *metrics.Registry
	now     func() time.Time

	reapInterval time.Duration
	cancel       context.CancelFunc
	done         chan struct{}
	closeOnce    sync.Once
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithReapInterval sets the sweep period. Non-positive values keep the default.
func WithReapInterval(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.reapInterval = d
		}
	}
}

// NewStore initializes a Store and starts its reaper.
// A nil registry or logger is replaced by a private one.
func NewStore(metricsRegistry *metrics.Registry, logger *logs.Logger, opts ...Option) *Store {
	if metricsRegistry == nil {
		metricsRegistry = metrics.NewRegistry()
	}
	if logger == nil {
		logger = logs.Discard()
	}

	s := &Store{
		data:         make(map[string]Entry),
		metrics:      metricsRegistry,
		now:          time.Now,
		reapInterval: DefaultReapInterval,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	reaper := ttl.NewReaper(s, s.reapInterval, logger, metricsRegistry)
	go func() {
		defer close(s.done)
		reaper.Start(ctx)
	}()

	return s
}

// Close stops the reaper and waits for it to exit. It is idempotent.
// The map stays usable afterwards but is no longer swept.
func (s *Store) Close() {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
}

// Set inserts or overwrites key with no expiry.
func (s *Store) Set(key string, value Value) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Inc(metrics.StoreSetsTotal)
	s.data[key] = Entry{Value: value}
}

// SetWithTTL inserts or overwrites key so that it expires after ttl.
// A non-positive ttl yields an entry that is already dead.
func (s *Store) SetWithTTL(key string, value Value, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Inc(metrics.StoreSetsTotal)
	s.data[key] = Entry{Value: value, ExpiresAt: s.now().Add(ttl)}
}

// Get returns the value if the key is alive.
// A dead entry found during lookup is removed before returning.
func (s *Store) Get(key string) (Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.metrics.Inc(metrics.StoreGetsTotal)

	entry, ok := s.liveLocked(key, s.now())
	if !ok {
		s.metrics.Inc(metrics.StoreMissesTotal)
		return Value{}, false
	}
	return entry.Value, true
}

// Exists reports whether key is alive, with the same lazy cleanup as Get.
func (s *Store) Exists(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.liveLocked(key, s.now())
	return ok
}

// Delete removes key whether alive or dead and reports whether an
// entry was physically removed.
func (s *Store) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	s.metrics.Inc(metrics.StoreDeletesTotal)
	return true
}

// Size counts the entries alive right now.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for _, e := range s.data {
		if !e.IsExpired(now) {
			n++
		}
	}
	return n
}

// Expire attaches or replaces the TTL of a live key.
// It returns false if the key is absent or already dead; a dead key is
// removed rather than resurrected.
func (s *Store) Expire(key string, ttl time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	entry, ok := s.liveLocked(key, now)
	if !ok {
		return false
	}
	entry.ExpiresAt = now.Add(ttl)
	s.data[key] = entry
	return true
}

// Dump returns every alive key/value pair, judged against one timestamp.
func (s *Store) Dump() map[string]Value {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make(map[string]Value, len(s.data))
	for k, e := range s.data {
		if !e.IsExpired(now) {
			out[k] = e.Value
		}
	}
	return out
}

// RemoveExpired removes all dead keys and returns how many were removed.
//
// This is used by the background reaper.
func (s *Store) RemoveExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for k, e := range s.data {
		if e.IsExpired(now) {
			delete(s.data, k)
			removed++
		}
	}

	if removed > 0 {
		s.metrics.Add(metrics.StoreExpiredTotal, int64(removed))
	}
	return removed
}

// Export calls fn with a copy of the alive entries and the instant they
// were judged at. The lock is held while fn runs so the view cannot
// interleave with writers.
func (s *Store) Export(fn func(now time.Time, entries map[string]Entry) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	live := make(map[string]Entry, len(s.data))
	for k, e := range s.data {
		if !e.IsExpired(now) {
			live[k] = e
		}
	}
	return fn(now, live)
}

// Replace swaps the whole content for the map fn builds. fn runs under
// the lock; if it fails the previous content is kept untouched.
func (s *Store) Replace(fn func(now time.Time) (map[string]Entry, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := fn(s.now())
	if err != nil {
		return err
	}
	if next == nil {
		next = make(map[string]Entry)
	}
	s.data = next
	return nil
}

// liveLocked returns the entry for key if it is alive at now and drops it
// if it is dead. Callers must hold s.mu.
func (s *Store) liveLocked(key string, now time.Time) (Entry, bool) {
	entry, ok := s.data[key]
	if !ok {
		return Entry{}, false
	}
	if entry.IsExpired(now) {
		delete(s.data, key)
		s.metrics.Inc(metrics.StoreExpiredTotal)
		return Entry{}, false
	}
	return entry, true
}
