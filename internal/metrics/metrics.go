package metrics

import (
	"sync"
	"sync/atomic"
)

// MetricKey is a strongly typed metric identifier.
type MetricKey string

// Metric keys (centralized)
const (
	// Store
	StoreSetsTotal    MetricKey = "store_sets_total"
	StoreGetsTotal    MetricKey = "store_gets_total"
	StoreMissesTotal  MetricKey = "store_misses_total"
	StoreDeletesTotal MetricKey = "store_deletes_total"
	StoreExpiredTotal MetricKey = "store_expired_total"

	// Reaper
	ReaperRunsTotal        MetricKey = "reaper_runs_total"
	ReaperKeysRemovedTotal MetricKey = "reaper_keys_removed_total"
	ReaperPanicsTotal      MetricKey = "reaper_panics_total"

	// Sessions
	SessionsActive       MetricKey = "sessions_active"
	SessionsOpenedTotal  MetricKey = "sessions_opened_total"
	SessionsClosedTotal  MetricKey = "sessions_closed_total"
	SessionKeysRestored  MetricKey = "session_keys_restored_total"
	SessionAutosaveTotal MetricKey = "session_autosave_total"

	// Snapshots
	SnapshotSavesTotal        MetricKey = "snapshot_saves_total"
	SnapshotSaveFailuresTotal MetricKey = "snapshot_save_failures_total"
	SnapshotSaveRetriesTotal  MetricKey = "snapshot_save_retries_total"
	SnapshotLoadsTotal        MetricKey = "snapshot_loads_total"
	SnapshotLoadFailuresTotal MetricKey = "snapshot_load_failures_total"
	SnapshotFormatErrorsTotal MetricKey = "snapshot_format_errors_total"

	// Commands
	CommandsTotal      MetricKey = "commands_total"
	CommandErrorsTotal MetricKey = "command_errors_total"
)

// Registry stores all metrics.
type Registry struct {
	mu       sync.RWMutex
	counters map[MetricKey]*int64
}

// NewRegistry creates a metrics registry.
func NewRegistry() *Registry {
	return &Registry{
		counters: make(map[MetricKey]*int64),
	}
}

// Inc increments a metric by 1.
func (r *Registry) Inc(key MetricKey) {
	r.Add(key, 1)
}

// Dec decrements a metric by 1. Only meaningful for gauges.
func (r *Registry) Dec(key MetricKey) {
	r.Add(key, -1)
}

// Add increments a metric by delta.
func (r *Registry) Add(key MetricKey, delta int64) {
	r.mu.RLock()
	ptr, ok := r.counters[key]
	r.mu.RUnlock()

	if ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	// Slow path: metric not yet initialized
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if ptr, ok = r.counters[key]; ok {
		atomic.AddInt64(ptr, delta)
		return
	}

	var val int64
	r.counters[key] = &val
	atomic.AddInt64(&val, delta)
}
