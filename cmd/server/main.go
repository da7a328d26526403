package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ignite/newsletter-delivery/internal/api"
	"github.com/ignite/newsletter-delivery/internal/app"
	"github.com/ignite/newsletter-delivery/internal/auth"
	"github.com/ignite/newsletter-delivery/internal/config"
	"github.com/ignite/newsletter-delivery/internal/pkg/logger"
	"github.com/ignite/newsletter-delivery/internal/service/newsletter"
)

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("address %s is already in use: %v", addr, err)
	}
	ln.Close()
	return nil
}

func main() {
	configPath := flag.String("config", "", "path to config.yaml (optional)")
	flag.Parse()

	log.Println("Starting newsletter API server...")
	app.ConfigureLogging()
	defer logger.Sync()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	addr := cfg.Server.Addr()
	if err := checkPortAvailable(addr); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open %s storage: %v", cfg.Database.Driver, err)
	}
	defer stores.Close()
	log.Printf("Storage ready (driver=%s)", cfg.Database.Driver)

	rdb, err := app.OpenRedis(ctx, cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	var sessions auth.SessionStore
	if rdb != nil {
		sessions = auth.NewRedisSessionStore(rdb, cfg.Session.TTL)
	} else {
		log.Println("Redis not configured, sessions are process-local")
		sessions = auth.NewMemorySessionStore(cfg.Session.TTL)
	}
	if admin := os.Getenv("DEV_ADMIN_USER"); admin != "" {
		id, err := sessions.Create(ctx, admin)
		if err != nil {
			log.Fatalf("Failed to seed dev session: %v", err)
		}
		log.Printf("Dev session for %s: %s=%s", admin, cfg.Session.CookieName, id)
	}

	svc := newsletter.NewService(stores.Publish, stores.Subscribers)

	// The memory queue only exists in this process, so delivery runs here.
	var background *app.Background
	if cfg.Worker.DeliveryMode == config.DeliveryInline || stores.Memory != nil {
		sender, err := app.NewEmailSender(ctx, cfg)
		if err != nil {
			log.Fatalf("Failed to initialize email sender: %v", err)
		}
		background = app.NewBackground(cfg, stores, rdb, sender)
		if cfg.Worker.DeliveryMode == config.DeliveryInline {
			svc.WithInlineDelivery(background.Workers[0])
			log.Println("Inline delivery enabled: publish drains the queue before responding")
		}
		if stores.Memory != nil {
			background.Start(ctx)
		}
	}

	server := api.NewServer(cfg.Server, api.RouteDeps{
		Publisher:      svc,
		Auth:           auth.NewMiddleware(sessions, cfg.Session.CookieName).RequireUser,
		Health:         api.NewHealthChecker(stores.Pinger(), rdb, stores.Depth),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	cancel()
	if background != nil {
		background.Wait()
	}
	log.Println("Server stopped")
}
