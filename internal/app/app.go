// Package app builds the runtime dependencies shared by cmd/server and
// cmd/worker from a loaded configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/newsletter-delivery/internal/api"
	"github.com/ignite/newsletter-delivery/internal/config"
	"github.com/ignite/newsletter-delivery/internal/domain"
	"github.com/ignite/newsletter-delivery/internal/email"
	"github.com/ignite/newsletter-delivery/internal/pkg/httpretry"
	"github.com/ignite/newsletter-delivery/internal/repository/memory"
	"github.com/ignite/newsletter-delivery/internal/repository/postgres"
	"github.com/ignite/newsletter-delivery/internal/service/newsletter"
	"github.com/ignite/newsletter-delivery/internal/service/sending"
	"github.com/ignite/newsletter-delivery/internal/worker"
)

// Stores groups the storage ports over one backend.
type Stores struct {
	Publish     newsletter.Store
	Subscribers newsletter.SubscriberSource
	Queue       worker.DeliveryQueue
	Purger      worker.IdempotencyPurger
	Depth       api.QueueDepther

	// DB is nil for the memory driver.
	DB *sql.DB
	// Memory is set for the memory driver.
	Memory *memory.Store
}

// Close releases the database pool.
func (s *Stores) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// Pinger returns the database health probe, or nil for the memory driver.
func (s *Stores) Pinger() api.Pinger {
	if s.DB == nil {
		return nil
	}
	return s.DB
}

// OpenStores connects to the configured database driver.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig) (*Stores, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		m := memory.New()
		return &Stores{Publish: m, Subscribers: m, Queue: m, Purger: m, Depth: m, Memory: m}, nil
	case config.DriverPostgres:
		db, err := OpenDB(ctx, cfg)
		if err != nil {
			return nil, err
		}
		queue := postgres.NewDeliveryQueue(db)
		return &Stores{
			Publish:     postgres.NewPublishStore(db),
			Subscribers: postgres.NewSubscriberRepo(db),
			Queue:       queue,
			Purger:      postgres.NewIdempotencyRepo(db),
			Depth:       queue,
			DB:          db,
		}, nil
	}
	return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// OpenDB opens and pings a Postgres pool.
func OpenDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// OpenRedis connects to Redis when it is configured. It returns nil, nil
// when no address is set.
func OpenRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	log.Printf("Redis connected: %s", cfg.Addr)
	return client, nil
}

// NewEmailSender builds the configured email transport.
func NewEmailSender(ctx context.Context, cfg *config.Config) (sending.EmailSender, error) {
	sender, err := domain.ParseSubscriberEmail(cfg.Email.Sender)
	if err != nil {
		return nil, fmt.Errorf("email.sender: %w", err)
	}
	switch cfg.Email.Provider {
	case config.ProviderSES:
		return email.NewSESSender(ctx, email.SESConfig{
			Region:    cfg.SES.Region,
			AccessKey: cfg.SES.AccessKey,
			SecretKey: cfg.SES.SecretKey,
		}, sender)
	case config.ProviderHTTP:
		doer := httpretry.NewRetryClient(&http.Client{Timeout: cfg.Email.Timeout()}, cfg.Email.MaxRetries)
		return email.NewClient(cfg.Email.BaseURL, sender, cfg.Email.AuthorizationToken, doer), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
}

// WorkerConfig maps the worker section onto the delivery worker settings.
// Without an explicit send_timeout the HTTP provider gets enough time for
// every retry httpretry may make; SES keeps the worker default.
func WorkerConfig(cfg *config.Config) worker.DeliveryWorkerConfig {
	sendTimeout := cfg.Worker.SendTimeout
	if sendTimeout <= 0 && cfg.Email.Provider == config.ProviderHTTP {
		sendTimeout = httpretry.MaxElapsed(cfg.Email.Timeout(), cfg.Email.MaxRetries)
	}
	return worker.DeliveryWorkerConfig{
		PollInterval:    cfg.Worker.PollInterval,
		ErrorBackoff:    cfg.Worker.ErrorBackoff,
		MaxErrorBackoff: cfg.Worker.MaxErrorBackoff,
		SendTimeout:     sendTimeout,
	}
}
