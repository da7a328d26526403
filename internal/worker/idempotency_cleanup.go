package worker

import (
	"context"
	"log"
	"time"

	"github.com/ignite/newsletter-delivery/internal/pkg/distlock"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
)

// =============================================================================
// IDEMPOTENCY CLEANUP WORKER: Expires Completed Idempotency Records
// =============================================================================
// Completed idempotency records are kept forever unless a retention is
// configured. With a retention, records older than it are deleted in batches
// so no single DELETE holds locks for long. A record still holding its
// in-flight sentinel is never removed, whatever its age.
//
// Every replica runs the worker; a distributed lock lets one of them sweep
// per tick.

const (
	DefaultCleanupInterval = 1 * time.Hour

	cleanupBatchSize   = 1000
	cleanupLockName    = "idempotency-cleanup"
	cleanupStmtTimeout = 60 * time.Second
)

// IdempotencyPurger deletes completed idempotency records created before
// cutoff, at most limit per call, and returns how many were removed.
type IdempotencyPurger interface {
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// IdempotencyCleanupWorker periodically purges expired idempotency records.
type IdempotencyCleanupWorker struct {
	purger    IdempotencyPurger
	lock      distlock.Lock
	retention time.Duration
	interval  time.Duration
	batchSize int
	pause     time.Duration
	now       func() time.Time
	log       *logger.Logger
}

// NewIdempotencyCleanupWorker creates a sweeper. lock may be nil when only a
// single process ever runs it.
func NewIdempotencyCleanupWorker(purger IdempotencyPurger, lock distlock.Lock, retention, interval time.Duration) *IdempotencyCleanupWorker {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	return &IdempotencyCleanupWorker{
		purger:    purger,
		lock:      lock,
		retention: retention,
		interval:  interval,
		batchSize: cleanupBatchSize,
		pause:     100 * time.Millisecond,
		now:       time.Now,
		log:       logger.Named("idempotency-cleanup"),
	}
}

// Enabled reports whether a retention is configured.
func (w *IdempotencyCleanupWorker) Enabled() bool { return w.retention > 0 }

// Start runs a sweep immediately and then every interval until ctx is done.
// It returns at once when the worker is disabled.
func (w *IdempotencyCleanupWorker) Start(ctx context.Context) {
	if !w.Enabled() {
		log.Println("[IdempotencyCleanup] Retention disabled, records are kept")
		return
	}
	log.Printf("[IdempotencyCleanup] Starting (retention=%s, interval=%s, batch_size=%d)", w.retention, w.interval, w.batchSize)

	w.Sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("[IdempotencyCleanup] Stopping")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep runs one cleanup cycle and returns the number of deleted records.
// Nothing is deleted when another replica holds the lock.
func (w *IdempotencyCleanupWorker) Sweep(ctx context.Context) int64 {
	if !w.Enabled() {
		return 0
	}
	if w.lock == nil {
		return w.purge(ctx)
	}

	var total int64
	ran, err := distlock.Do(ctx, w.lock, func(ctx context.Context) error {
		total = w.purge(ctx)
		return nil
	})
	if err != nil {
		w.log.Error("Failed to take cleanup lock", "error", err)
		return 0
	}
	if !ran {
		w.log.Debug("Cleanup lock held by another replica")
	}
	return total
}

func (w *IdempotencyCleanupWorker) purge(ctx context.Context) int64 {
	start := w.now()
	cutoff := start.Add(-w.retention)
	var total int64

	for ctx.Err() == nil {
		stmtCtx, cancel := context.WithTimeout(ctx, cleanupStmtTimeout)
		n, err := w.purger.DeleteCompletedBefore(stmtCtx, cutoff, w.batchSize)
		cancel()
		if err != nil {
			w.log.Error("Failed to delete expired idempotency records", "error", err, "deleted", total)
			break
		}
		total += n
		if n < int64(w.batchSize) {
			break
		}

		select {
		case <-ctx.Done():
		case <-time.After(w.pause):
		}
	}

	if total > 0 {
		w.log.Info("Removed expired idempotency records", "deleted", total, "cutoff", cutoff.Format(time.RFC3339), "took", time.Since(start).Round(time.Millisecond).String())
	}
	return total
}
