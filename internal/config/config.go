package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Redis       RedisConfig       `yaml:"redis"`
	Session     SessionConfig     `yaml:"session"`
	Email       EmailConfig       `yaml:"email"`
	SES         SESConfig         `yaml:"ses"`
	Worker      WorkerConfig      `yaml:"worker"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port           int           `yaml:"port"`
	Host           string        `yaml:"host"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// Addr returns host:port for net/http.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Database drivers.
const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// DatabaseConfig selects the storage backend and tunes the connection pool.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// RedisConfig holds the Redis connection used for sessions and locks.
// An empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Enabled reports whether a Redis address is configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// SessionConfig holds the admin session cookie settings.
type SessionConfig struct {
	CookieName string        `yaml:"cookie_name"`
	TTL        time.Duration `yaml:"ttl"`
}

// Email providers.
const (
	ProviderHTTP = "http"
	ProviderSES  = "ses"
)

// EmailConfig configures the outbound email transport.
type EmailConfig struct {
	Provider           string `yaml:"provider"`
	Sender             string `yaml:"sender"`
	BaseURL            string `yaml:"base_url"`
	AuthorizationToken string `yaml:"authorization_token"`
	TimeoutMS          int    `yaml:"timeout_ms"`
	MaxRetries         int    `yaml:"max_retries"`
}

// Timeout returns the configured timeout as a duration
func (c EmailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// SESConfig holds AWS SES API configuration
type SESConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// Delivery modes.
const (
	DeliveryAsync  = "async"
	DeliveryInline = "inline"
)

// WorkerConfig tunes the delivery workers.
type WorkerConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	ErrorBackoff    time.Duration `yaml:"error_backoff"`
	MaxErrorBackoff time.Duration `yaml:"max_error_backoff"`
	// SendTimeout bounds one delivery including transport retries. Zero
	// derives it from the email timeout and retry count.
	SendTimeout     time.Duration `yaml:"send_timeout"`
	DeliveryMode    string        `yaml:"delivery_mode"`
	Concurrency     int           `yaml:"concurrency"`
}

// IdempotencyConfig controls expiry of idempotency records. A zero
// Retention keeps records forever.
type IdempotencyConfig struct {
	Retention       time.Duration `yaml:"retention"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverPostgres
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_id"
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 24 * time.Hour
	}
	if cfg.Email.Provider == "" {
		cfg.Email.Provider = ProviderHTTP
	}
	if cfg.Email.TimeoutMS == 0 {
		cfg.Email.TimeoutMS = 10000
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = "us-west-2"
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 10 * time.Second
	}
	if cfg.Worker.ErrorBackoff == 0 {
		cfg.Worker.ErrorBackoff = time.Second
	}
	if cfg.Worker.MaxErrorBackoff == 0 {
		cfg.Worker.MaxErrorBackoff = time.Minute
	}
	if cfg.Worker.DeliveryMode == "" {
		cfg.Worker.DeliveryMode = DeliveryAsync
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 1
	}
	if cfg.Idempotency.CleanupInterval == 0 {
		cfg.Idempotency.CleanupInterval = time.Hour
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
// An empty path skips the file and starts from defaults.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		loaded, err := Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	str("SERVER_HOST", &cfg.Server.Host)
	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.URL)
	str("REDIS_ADDR", &cfg.Redis.Addr)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	str("EMAIL_PROVIDER", &cfg.Email.Provider)
	str("EMAIL_SENDER", &cfg.Email.Sender)
	str("EMAIL_BASE_URL", &cfg.Email.BaseURL)
	str("EMAIL_AUTHORIZATION_TOKEN", &cfg.Email.AuthorizationToken)
	str("AWS_SES_REGION", &cfg.SES.Region)
	str("AWS_SES_ACCESS_KEY", &cfg.SES.AccessKey)
	str("AWS_SES_SECRET_KEY", &cfg.SES.SecretKey)
	str("DELIVERY_MODE", &cfg.Worker.DeliveryMode)

	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv("WORKER_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("WORKER_CONCURRENCY: %w", err)
		}
		cfg.Worker.Concurrency = n
	}
	if v := os.Getenv("IDEMPOTENCY_RETENTION"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("IDEMPOTENCY_RETENTION: %w", err)
		}
		cfg.Idempotency.Retention = d
	}
	return nil
}

// Validate rejects configurations the binaries cannot run with.
func (cfg *Config) Validate() error {
	var errs []error
	switch cfg.Database.Driver {
	case DriverPostgres:
		if cfg.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for the postgres driver"))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("database.driver: unknown driver %q", cfg.Database.Driver))
	}
	switch cfg.Email.Provider {
	case ProviderHTTP:
		if cfg.Email.BaseURL == "" {
			errs = append(errs, errors.New("email.base_url is required for the http provider"))
		}
	case ProviderSES:
	default:
		errs = append(errs, fmt.Errorf("email.provider: unknown provider %q", cfg.Email.Provider))
	}
	if cfg.Email.Sender == "" {
		errs = append(errs, errors.New("email.sender is required"))
	}
	switch cfg.Worker.DeliveryMode {
	case DeliveryAsync, DeliveryInline:
	default:
		errs = append(errs, fmt.Errorf("worker.delivery_mode: unknown mode %q", cfg.Worker.DeliveryMode))
	}
	if cfg.Worker.Concurrency < 1 {
		errs = append(errs, errors.New("worker.concurrency must be at least 1"))
	}
	if cfg.Idempotency.Retention < 0 {
		errs = append(errs, errors.New("idempotency.retention must not be negative"))
	}
	return errors.Join(errs...)
}
