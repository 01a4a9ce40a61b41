package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/manenim/redis-rate-limit/pkg/limiter"
)

// Config is the configuration of the server and the CLI.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Limit   LimitConfig   `yaml:"limit"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
	Purge   PurgeConfig   `yaml:"purge"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StoreConfig selects the counter store. DSN is the file path or URL for the
// SQL stores and is ignored by memory and redis.
type StoreConfig struct {
	Type         string        `yaml:"type"`
	DSN          string        `yaml:"dsn"`
	Prefix       string        `yaml:"prefix"`
	Timeout      time.Duration `yaml:"timeout"`
	Table        string        `yaml:"table"`
	MaxOpenConns int           `yaml:"max_open_conns"`
}

// RedisConfig with more than one address builds a cluster client.
type RedisConfig struct {
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`
	PoolSize int      `yaml:"pool_size"`
}

type LimitConfig struct {
	Resource     string        `yaml:"resource"`
	MaxRequests  int64         `yaml:"max_requests"`
	Window       time.Duration `yaml:"window"`
	ZeroIdleWait bool          `yaml:"zero_idle_wait"`
}

// HTTPConfig controls how the middleware identifies clients and what it does
// when the store is unreachable.
type HTTPConfig struct {
	KeyHeader         string `yaml:"key_header"`
	TrustForwardedFor bool   `yaml:"trust_forwarded_for"`
	FailOpen          bool   `yaml:"fail_open"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ServiceName  string  `yaml:"service_name"`
	Exporter     string  `yaml:"exporter"`
	OTLPEndpoint string  `yaml:"otlp_endpoint"`
	SampleRate   float64 `yaml:"sample_rate"`
}

// PurgeConfig schedules deletion of expired buckets for the SQL and memory
// stores. An empty schedule disables the job.
type PurgeConfig struct {
	Schedule string `yaml:"schedule"`
}

// Store types.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Type:         StoreRedis,
			Prefix:       limiter.DefaultPrefix,
			Timeout:      100 * time.Millisecond,
			Table:        limiter.DefaultTable,
			MaxOpenConns: 10,
		},
		Redis: RedisConfig{
			Addrs:    []string{"localhost:6379"},
			PoolSize: 10,
		},
		Limit: LimitConfig{
			Resource:    "default",
			MaxRequests: 10,
			Window:      time.Second,
		},
		HTTP: HTTPConfig{
			KeyHeader: "X-API-Key",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Path:      "/metrics",
			Namespace: "ratelimit",
		},
		Tracing: TracingConfig{
			ServiceName: "ratelimit",
			Exporter:    "stdout",
			SampleRate:  1.0,
		},
		Purge: PurgeConfig{
			Schedule: "@every 5m",
		},
	}
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("invalid store config: %w", err)
	}
	if c.Store.Type == StoreRedis && len(c.Redis.Addrs) == 0 {
		return errors.New("invalid redis config: at least one address is required")
	}
	if err := c.Limit.Validate(); err != nil {
		return fmt.Errorf("invalid limit config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("invalid metrics config: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("invalid tracing config: %w", err)
	}
	if c.Purge.Schedule != "" {
		if _, err := cron.ParseStandard(c.Purge.Schedule); err != nil {
			return fmt.Errorf("invalid purge schedule %q: %w", c.Purge.Schedule, err)
		}
	}
	return nil
}

func (sc *ServerConfig) Validate() error {
	if sc.Port <= 0 || sc.Port > 65535 {
		return errors.New("port must be between 1 and 65535")
	}
	if sc.ReadTimeout < 0 || sc.WriteTimeout < 0 || sc.IdleTimeout < 0 {
		return errors.New("timeouts cannot be negative")
	}
	return nil
}

func (sc *StoreConfig) Validate() error {
	switch sc.Type {
	case StoreMemory, StoreRedis:
	case StoreSQLite, StorePostgres:
		if sc.DSN == "" {
			return fmt.Errorf("dsn is required for %s", sc.Type)
		}
	default:
		return fmt.Errorf("unsupported store type: %s", sc.Type)
	}
	if sc.Prefix == "" {
		return errors.New("prefix cannot be empty")
	}
	if sc.Timeout < 0 {
		return errors.New("timeout cannot be negative")
	}
	return nil
}

func (lc *LimitConfig) Validate() error {
	if lc.Resource == "" {
		return errors.New("resource cannot be empty")
	}
	if lc.MaxRequests <= 0 {
		return errors.New("max_requests must be greater than 0")
	}
	if lc.Window < 0 {
		return errors.New("window cannot be negative")
	}
	return nil
}

func (lc *LoggingConfig) Validate() error {
	switch strings.ToLower(lc.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log level: %s", lc.Level)
	}
	switch lc.Format {
	case "json", "text":
	default:
		return fmt.Errorf("unsupported log format: %s", lc.Format)
	}
	switch lc.Output {
	case "stdout", "stderr":
	case "file":
		if lc.FilePath == "" {
			return errors.New("file_path is required when output is file")
		}
	default:
		return fmt.Errorf("unsupported log output: %s", lc.Output)
	}
	return nil
}

func (mc *MetricsConfig) Validate() error {
	if !mc.Enabled {
		return nil
	}
	if !strings.HasPrefix(mc.Path, "/") {
		return errors.New("metrics path must start with /")
	}
	return nil
}

func (tc *TracingConfig) Validate() error {
	if !tc.Enabled {
		return nil
	}
	switch tc.Exporter {
	case "stdout":
	case "otlp":
		if tc.OTLPEndpoint == "" {
			return errors.New("otlp_endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("unsupported trace exporter: %s", tc.Exporter)
	}
	if tc.SampleRate < 0 || tc.SampleRate > 1 {
		return errors.New("sample_rate must be between 0 and 1")
	}
	return nil
}

// Policy returns the limiter policy.
func (lc LimitConfig) Policy() limiter.Limit {
	return limiter.Limit{MaxRequests: lc.MaxRequests, Window: lc.Window}
}

// Options returns the limiter options implied by the store and limit sections.
func (c *Config) Options() []limiter.Option {
	opts := []limiter.Option{
		limiter.WithPrefix(c.Store.Prefix),
		limiter.WithTimeout(c.Store.Timeout),
	}
	if c.Limit.ZeroIdleWait {
		opts = append(opts, limiter.WithZeroIdleWait())
	}
	return opts
}
