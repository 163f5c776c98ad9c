package bufcache

import (
	"context"
	"log/slog"

	"go.uber.org/atomic"
)

// Sleeper is the slice of internal/timer.Service the write-behind flusher
// needs: a blocking sleep of intervalMs milliseconds. Declared locally
// (rather than importing internal/timer) so bufcache stays independently
// testable with a fake clock and to keep the dependency direction pointing
// from internal/core outward rather than bufcache depending on timer.
type Sleeper interface {
	Msleep(ctx context.Context, ms int64)
}

// WriteBehind is the dedicated background flusher (spec.md §4.5
// "Write-behind"): wakes every intervalMs, calls Flush, and performs one
// final flush after its run switch is cleared. Grounded on
// original_source/src/filesys/cache.c's cache_write_behind, dogfooding
// component H (internal/timer) for the sleep instead of a raw ticker.
type WriteBehind struct {
	cache      *Cache
	sleeper    Sleeper
	intervalMs int64
	run        atomic.Bool
}

// NewWriteBehind constructs a flusher for cache, sleeping intervalMs
// between sweeps via sleeper (spec.md §6 WRITE_BEHIND_INTERVAL_MS).
func NewWriteBehind(cache *Cache, sleeper Sleeper, intervalMs int64) *WriteBehind {
	return &WriteBehind{cache: cache, sleeper: sleeper, intervalMs: intervalMs}
}

// Run is the service-thread loop; it blocks until Stop is called, performing
// a final flush on exit. Cancelling ctx does not end the loop.
func (w *WriteBehind) Run(ctx context.Context) {
	w.run.Store(true)
	for w.run.Load() {
		if err := w.cache.Flush(ctx); err != nil {
			slog.Error("bufcache: write-behind flush failed", "err", err)
		}
		w.sleeper.Msleep(ctx, w.intervalMs)
	}
	if err := w.cache.Flush(ctx); err != nil {
		slog.Error("bufcache: write-behind final flush failed", "err", err)
	}
}

// Stop signals the loop to exit after its current sweep (spec.md §4.5's
// "boolean switch run_write_behind").
func (w *WriteBehind) Stop() {
	w.run.Store(false)
}
