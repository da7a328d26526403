package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/newsletter-delivery/internal/app"
	"github.com/ignite/newsletter-delivery/internal/config"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	log.Println("Starting newsletter delivery worker...")
	app.ConfigureLogging()
	defer logger.Sync()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	if cfg.Database.Driver == config.DriverMemory {
		log.Fatal("The memory driver keeps the queue inside cmd/server; run the server instead")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer stores.Close()
	log.Println("Connected to database")

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Printf("Warning: %v, falling back to PG advisory locks", err)
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}

	sender, err := app.NewEmailSender(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to initialize email sender: %v", err)
	}
	log.Printf("Email sender initialized (provider=%s)", cfg.Email.Provider)

	background := app.NewBackground(cfg, stores, rdb, sender)
	background.Start(ctx)

	// Heartbeat with delivery counters
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s := background.Stats()
				log.Printf("Worker heartbeat - sent=%d skipped=%d failed=%d",
					s["total_sent"], s["total_skipped"], s["total_failed"])
			}
		}
	}()

	log.Println("Worker running...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down worker...")
	cancel()

	// In-hand tasks finish their commit before the workers return.
	background.Wait()
	log.Println("Worker stopped")
}
