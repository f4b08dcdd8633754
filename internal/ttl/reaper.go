package ttl

import (
	"context"
	"fmt"
	"time"

	"minikv/internal/logs"
	"minikv/internal/metrics"
)

// Store defines the minimal contract required by the reaper.
// This keeps the reaper decoupled from the concrete store implementation.
type Store interface {
	RemoveExpired() int
}

// Reaper periodically removes expired keys from one store.
type Reaper struct {
	store    Store
	interval time.Duration
	logger   *logs.Logger
	metrics  *metrics.Registry
}

// NewReaper creates a new Reaper.
func NewReaper(
	store Store,
	interval time.Duration,
	logger *logs.Logger,
	reg *metrics.Registry,
) *Reaper {
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger,
		metrics:  reg,
	}
}

// Start runs the sweep loop until the context is cancelled.
// It blocks and should typically be run in a separate goroutine.
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.runOnce()
		case <-ctx.Done():
			r.logger.Debug("reaper stopped")
			return
		}
	}
}

// runOnce performs a single sweep. A panicking sweep is recorded and
// swallowed so the loop keeps running.
func (r *Reaper) runOnce() {
	defer func() {
		if p := recover(); p != nil {
			r.metrics.Inc(metrics.ReaperPanicsTotal)
			r.logger.Error("panic: reaper sweep", "err", fmt.Sprint(p))
		}
	}()

	r.metrics.Inc(metrics.ReaperRunsTotal)
	removed := r.store.RemoveExpired()
	if removed > 0 {
		r.metrics.Add(metrics.ReaperKeysRemovedTotal, int64(removed))
		r.logger.Debug("reaper removed expired keys", "count", removed)
	}
}
