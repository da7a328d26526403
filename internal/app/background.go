package app

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter-delivery/internal/config"
	"github.com/ignite/newsletter-delivery/internal/pkg/distlock"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
	"github.com/ignite/newsletter-delivery/internal/worker"
)

// ConfigureLogging applies LOG_LEVEL and LOG_REDACT_PII from the environment.
func ConfigureLogging() {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		lvl, err := logger.ParseLevel(v)
		if err != nil {
			log.Printf("Ignoring LOG_LEVEL: %v", err)
		} else {
			logger.SetLevel(lvl)
		}
	}
	if os.Getenv("LOG_REDACT_PII") == "false" {
		logger.SetRedactPII(false)
	}
}

// Background runs the delivery workers and the idempotency sweeper.
type Background struct {
	Workers []*worker.DeliveryWorker
	Cleanup *worker.IdempotencyCleanupWorker
	wg      sync.WaitGroup
}

// NewBackground builds cfg.Worker.Concurrency delivery workers over the
// queue plus the retention sweeper. The sweeper is guarded by a Redis lock
// when rdb is set and by a Postgres advisory lock otherwise.
func NewBackground(cfg *config.Config, stores *Stores, rdb *redis.Client, sender sending.EmailSender) *Background {
	b := &Background{}
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		b.Workers = append(b.Workers, worker.NewDeliveryWorker(stores.Queue, sender, WorkerConfig(cfg)))
	}

	var lock distlock.Lock
	if rdb != nil || stores.DB != nil {
		lock = distlock.New(rdb, stores.DB, "idempotency-cleanup", cfg.Idempotency.CleanupInterval)
	}
	b.Cleanup = worker.NewIdempotencyCleanupWorker(stores.Purger, lock, cfg.Idempotency.Retention, cfg.Idempotency.CleanupInterval)
	return b
}

// Start launches every goroutine. They stop when ctx is cancelled.
func (b *Background) Start(ctx context.Context) {
	for _, w := range b.Workers {
		b.wg.Add(1)
		go func(w *worker.DeliveryWorker) {
			defer b.wg.Done()
			w.Run(ctx)
		}(w)
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.Cleanup.Start(ctx)
	}()
	log.Printf("Background started (%d delivery workers, retention sweeper enabled=%t)", len(b.Workers), b.Cleanup.Enabled())
}

// Wait blocks until every goroutine has returned. Workers finish the task in
// hand before returning.
func (b *Background) Wait() { b.wg.Wait() }

// Stats sums the counters of all delivery workers.
func (b *Background) Stats() map[string]int64 {
	total := make(map[string]int64)
	for _, w := range b.Workers {
		for k, v := range w.Stats() {
			total[k] += v
		}
	}
	return total
}
