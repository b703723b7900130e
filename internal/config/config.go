package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds all configuration for the event bus daemon
type Config struct {
	// Server configuration
	HTTPPort int    `env:"BUS_HTTP_PORT" envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`

	// Source recorded on events published by this process
	Source string `env:"BUS_SOURCE" envDefault:"eventbus"`

	// Redis configuration
	Redis RedisConfig

	// Stream configuration
	Streams StreamConfig

	// Consumer configuration
	Consumer ConsumerConfig

	// Retry configuration
	Retry RetryConfig

	// Publish configuration
	Publish PublishConfig

	// Timeouts
	Timeouts TimeoutConfig
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASS"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`

	// Connection pool settings
	PoolSize     int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	MinIdleConns int           `env:"REDIS_MIN_IDLE_CONNS" envDefault:"2"`
	MaxRetries   int           `env:"REDIS_MAX_RETRIES" envDefault:"3"`
	DialTimeout  time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`
	ReadTimeout  time.Duration `env:"REDIS_READ_TIMEOUT" envDefault:"3s"`
	WriteTimeout time.Duration `env:"REDIS_WRITE_TIMEOUT" envDefault:"3s"`
}

// StreamConfig names the streams and the routing convention
type StreamConfig struct {
	Domain    string `env:"BUS_STREAM_DOMAIN" envDefault:"events:domain"`
	Technical string `env:"BUS_STREAM_TECHNICAL" envDefault:"events:technical"`
	Failed    string `env:"BUS_STREAM_FAILED" envDefault:"events:failed"`

	// TechnicalModules lists event-type module prefixes routed to the
	// technical stream instead of the domain stream
	TechnicalModules []string `env:"BUS_TECHNICAL_MODULES" envDefault:"system,scheduler,monitoring,audit" envSeparator:","`
}

// ConsumerConfig holds read-loop defaults
type ConsumerConfig struct {
	BatchSize     int64         `env:"BUS_CONSUMER_BATCH_SIZE" envDefault:"10"`
	Block         time.Duration `env:"BUS_CONSUMER_BLOCK" envDefault:"1s"`
	ClaimInterval time.Duration `env:"BUS_CONSUMER_CLAIM_INTERVAL" envDefault:"30s"`
	ClaimMinIdle  time.Duration `env:"BUS_CONSUMER_CLAIM_MIN_IDLE" envDefault:"60s"`
	ErrorPause    time.Duration `env:"BUS_CONSUMER_ERROR_PAUSE" envDefault:"1s"`

	// Worker pool settings
	PoolSize            int           `env:"BUS_CONSUMER_POOL_SIZE" envDefault:"3"`
	HealthCheckInterval time.Duration `env:"BUS_CONSUMER_HEALTH_CHECK_INTERVAL" envDefault:"30s"`
}

// RetryConfig holds redelivery settings
type RetryConfig struct {
	MaxRetries  int           `env:"BUS_RETRY_MAX" envDefault:"3"`
	BaseBackoff time.Duration `env:"BUS_RETRY_BASE_BACKOFF" envDefault:"500ms"`
	MaxBackoff  time.Duration `env:"BUS_RETRY_MAX_BACKOFF" envDefault:"30s"`
}

// PublishConfig holds fire-and-forget publish settings
type PublishConfig struct {
	QueueSize int           `env:"BUS_PUBLISH_QUEUE_SIZE" envDefault:"256"`
	Timeout   time.Duration `env:"BUS_PUBLISH_TIMEOUT" envDefault:"5s"`
}

// TimeoutConfig holds various timeout configurations
type TimeoutConfig struct {
	ShutdownTimeout time.Duration `env:"TIMEOUT_SHUTDOWN" envDefault:"30s"`
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}

	if c.Streams.Domain == "" || c.Streams.Technical == "" || c.Streams.Failed == "" {
		return fmt.Errorf("all three stream names are required")
	}

	if c.Consumer.BatchSize < 1 {
		return fmt.Errorf("consumer batch size must be at least 1")
	}
	if c.Consumer.PoolSize < 1 {
		return fmt.Errorf("consumer pool size must be at least 1")
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative")
	}
	if c.Retry.BaseBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("invalid retry backoff bounds: base %s, max %s", c.Retry.BaseBackoff, c.Retry.MaxBackoff)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// GetHTTPAddr returns the HTTP server address
func (c *Config) GetHTTPAddr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}
