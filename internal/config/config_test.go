package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "0.0.0.0"
  allowed_origins: ["https://admin.example.com"]

database:
  driver: postgres
  url: "postgres://localhost/newsletter?sslmode=disable"
  max_open_conns: 50

redis:
  addr: "localhost:6379"

email:
  provider: http
  sender: "news@example.com"
  base_url: "https://api.postmarkapp.com"
  authorization_token: "token"
  timeout_ms: 2500

worker:
  poll_interval: 2s
  delivery_mode: inline
  concurrency: 4

idempotency:
  retention: 168h
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Addr())
	assert.Equal(t, []string{"https://admin.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, 50, cfg.Database.MaxOpenConns)
	assert.True(t, cfg.Redis.Enabled())
	assert.Equal(t, 2500*time.Millisecond, cfg.Email.Timeout())
	assert.Equal(t, 2*time.Second, cfg.Worker.PollInterval)
	assert.Equal(t, DeliveryInline, cfg.Worker.DeliveryMode)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 168*time.Hour, cfg.Idempotency.Retention)
	require.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "{}"))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, ProviderHTTP, cfg.Email.Provider)
	assert.Equal(t, 10*time.Second, cfg.Email.Timeout())
	assert.Equal(t, DeliveryAsync, cfg.Worker.DeliveryMode)
	assert.Equal(t, 1, cfg.Worker.Concurrency)
	assert.Equal(t, "session_id", cfg.Session.CookieName)
	assert.Zero(t, cfg.Idempotency.Retention, "records are kept forever by default")
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  driver: postgres
email:
  sender: "news@example.com"
  base_url: "http://localhost"
`)
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("EMAIL_PROVIDER", "ses")
	t.Setenv("PORT", "7000")
	t.Setenv("WORKER_CONCURRENCY", "3")
	t.Setenv("IDEMPOTENCY_RETENTION", "24h")

	cfg, err := LoadFromEnv(path)
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, ProviderSES, cfg.Email.Provider)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, 24*time.Hour, cfg.Idempotency.Retention)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("WORKER_CONCURRENCY", "many")
	_, err := LoadFromEnv("")
	assert.ErrorContains(t, err, "WORKER_CONCURRENCY")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Database.URL = "postgres://localhost/newsletter"
		cfg.Email.Sender = "news@example.com"
		cfg.Email.BaseURL = "http://localhost"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"postgres without url", func(c *Config) { c.Database.URL = "" }, "database.url"},
		{"unknown provider", func(c *Config) { c.Email.Provider = "smtp" }, "email.provider"},
		{"http without base url", func(c *Config) { c.Email.BaseURL = "" }, "email.base_url"},
		{"missing sender", func(c *Config) { c.Email.Sender = "" }, "email.sender"},
		{"unknown mode", func(c *Config) { c.Worker.DeliveryMode = "batch" }, "worker.delivery_mode"},
		{"zero concurrency", func(c *Config) { c.Worker.Concurrency = 0 }, "worker.concurrency"},
		{"negative retention", func(c *Config) { c.Idempotency.Retention = -time.Hour }, "idempotency.retention"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}
}

func TestValidateMemoryDriverNeedsNoURL(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = DriverMemory
	cfg.Email.Provider = ProviderSES
	cfg.Email.Sender = "news@example.com"
	assert.NoError(t, cfg.Validate())
}
