// Package config loads service configuration from defaults, an optional YAML
// file and RATELIMIT_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := NewDefaultConfig()

	if configPath != "" {
		if err := loadFromFile(config, configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := loadFromEnvironment(config); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func loadFromFile(config *Config, filePath string) error {
	data, err := os.ReadFile(filePath)
	if os.IsNotExist(err) {
		return fmt.Errorf("config file not found: %s", filePath)
	}
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

// loadFromEnvironment applies every RATELIMIT_* override it can and reports
// all values that failed to parse.
func loadFromEnvironment(config *Config) error {
	var env envParser
	// Server configuration
	if host := os.Getenv("RATELIMIT_HOST"); host != "" {
		config.Server.Host = host
	}
	env.setInt("RATELIMIT_PORT", &config.Server.Port)
	env.setDuration("RATELIMIT_SHUTDOWN_TIMEOUT", &config.Server.ShutdownTimeout)

	// Store configuration
	if storeType := os.Getenv("RATELIMIT_STORE_TYPE"); storeType != "" {
		config.Store.Type = storeType
	}
	if dsn := os.Getenv("RATELIMIT_STORE_DSN"); dsn != "" {
		config.Store.DSN = dsn
	}
	if prefix := os.Getenv("RATELIMIT_KEY_PREFIX"); prefix != "" {
		config.Store.Prefix = prefix
	}
	env.setDuration("RATELIMIT_STORE_TIMEOUT", &config.Store.Timeout)

	// Redis configuration
	if addrs := os.Getenv("RATELIMIT_REDIS_ADDR"); addrs != "" {
		config.Redis.Addrs = splitList(addrs)
	}
	if password := os.Getenv("RATELIMIT_REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	env.setInt("RATELIMIT_REDIS_DB", &config.Redis.DB)
	env.setInt("RATELIMIT_REDIS_POOL_SIZE", &config.Redis.PoolSize)

	// Limit configuration
	if resource := os.Getenv("RATELIMIT_RESOURCE"); resource != "" {
		config.Limit.Resource = resource
	}
	env.setInt64("RATELIMIT_MAX_REQUESTS", &config.Limit.MaxRequests)
	env.setDuration("RATELIMIT_WINDOW", &config.Limit.Window)
	env.setBool("RATELIMIT_ZERO_IDLE_WAIT", &config.Limit.ZeroIdleWait)

	// HTTP configuration
	if header := os.Getenv("RATELIMIT_KEY_HEADER"); header != "" {
		config.HTTP.KeyHeader = header
	}
	env.setBool("RATELIMIT_TRUST_FORWARDED_FOR", &config.HTTP.TrustForwardedFor)
	env.setBool("RATELIMIT_FAIL_OPEN", &config.HTTP.FailOpen)

	// Logging configuration
	if level := os.Getenv("RATELIMIT_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("RATELIMIT_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if output := os.Getenv("RATELIMIT_LOG_OUTPUT"); output != "" {
		config.Logging.Output = output
	}
	if filePath := os.Getenv("RATELIMIT_LOG_FILE_PATH"); filePath != "" {
		config.Logging.FilePath = filePath
	}

	// Observability configuration
	env.setBool("RATELIMIT_METRICS_ENABLED", &config.Metrics.Enabled)
	if path := os.Getenv("RATELIMIT_METRICS_PATH"); path != "" {
		config.Metrics.Path = path
	}
	env.setBool("RATELIMIT_TRACING_ENABLED", &config.Tracing.Enabled)
	if exporter := os.Getenv("RATELIMIT_TRACING_EXPORTER"); exporter != "" {
		config.Tracing.Exporter = exporter
	}
	if endpoint := os.Getenv("RATELIMIT_OTLP_ENDPOINT"); endpoint != "" {
		config.Tracing.OTLPEndpoint = endpoint
	}

	// An explicit empty value disables the purge job.
	if schedule, ok := os.LookupEnv("RATELIMIT_PURGE_SCHEDULE"); ok {
		config.Purge.Schedule = schedule
	}

	return errors.Join(env.errs...)
}

// envParser collects parse failures so one bad variable does not hide the
// next.
type envParser struct {
	errs []error
}

func (p *envParser) fail(name, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", name, value, err))
}

func (p *envParser) setInt(name string, dst *int) {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) setInt64(name string, dst *int64) {
	if v := os.Getenv(name); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (p *envParser) setDuration(name string, dst *time.Duration) {
	if v := os.Getenv(name); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = d
	}
}

func (p *envParser) setBool(name string, dst *bool) {
	if v := os.Getenv(name); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			p.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
