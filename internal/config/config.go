// Package config loads engine configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign engine.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Broker     BrokerConfig     `yaml:"broker"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BrokerConfig selects and tunes the message broker.
type BrokerConfig struct {
	// Mode is "redis" or "sandbox".
	Mode string `yaml:"mode"`
	// SendTimeoutSeconds bounds each broker submission call.
	SendTimeoutSeconds int `yaml:"send_timeout_seconds"`
	// SandboxFailureRate is the simulated per-send failure fraction in
	// sandbox mode.
	SandboxFailureRate float64 `yaml:"sandbox_failure_rate"`
}

// SendTimeout returns the broker submission timeout as a duration.
func (c BrokerConfig) SendTimeout() time.Duration {
	return time.Duration(c.SendTimeoutSeconds) * time.Second
}

// SchedulerConfig tunes the due-campaign poll loop.
type SchedulerConfig struct {
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	BatchLimit          int `yaml:"batch_limit"`
	ClaimTTLSeconds     int `yaml:"claim_ttl_seconds"`
}

// PollInterval returns the due-campaign poll interval as a duration.
func (c SchedulerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// ClaimTTL returns the claim lock TTL as a duration.
func (c SchedulerConfig) ClaimTTL() time.Duration {
	return time.Duration(c.ClaimTTLSeconds) * time.Second
}

// DispatchConfig tunes the send worker pool and batch retry policy.
type DispatchConfig struct {
	Workers             int `yaml:"workers"`
	BatchSize           int `yaml:"batch_size"`
	MaxRetries          int `yaml:"max_retries"`
	RetryBackoffSeconds int `yaml:"retry_backoff_seconds"`
}

// RetryBackoff returns the initial batch retry backoff as a duration.
func (c DispatchConfig) RetryBackoff() time.Duration {
	return time.Duration(c.RetryBackoffSeconds) * time.Second
}

// ReconcilerConfig tunes receipt consumption.
type ReconcilerConfig struct {
	Workers int `yaml:"workers"`
}

// LoggingConfig tunes the structured logger.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII *bool  `yaml:"redact_pii"`
}

// Default returns the baseline configuration.
func Default() *Config {
	redact := true
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Database: DatabaseConfig{MaxOpenConns: 20},
		Redis:    RedisConfig{Addr: "localhost:6379"},
		Broker: BrokerConfig{
			Mode:               "sandbox",
			SendTimeoutSeconds: 5,
			SandboxFailureRate: 0.1,
		},
		Scheduler: SchedulerConfig{
			PollIntervalSeconds: 30,
			BatchLimit:          10,
			ClaimTTLSeconds:     600,
		},
		Dispatch: DispatchConfig{
			Workers:             10,
			BatchSize:           100,
			MaxRetries:          3,
			RetryBackoffSeconds: 2,
		},
		Reconciler: ReconcilerConfig{Workers: 4},
		Logging:    LoggingConfig{Level: "info", RedactPII: &redact},
	}
}

// Load reads configuration from a YAML file, falling back to defaults when
// the file is absent, then applies environment overrides. A .env file is
// loaded first if present.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := os.Getenv("SERVER_ADDR"); addr != "" {
		cfg.Server.Addr = addr
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if mode := os.Getenv("BROKER_MODE"); mode != "" {
		cfg.Broker.Mode = mode
	}
	if v := os.Getenv("SCHEDULER_POLL_INTERVAL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Scheduler.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("DISPATCH_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dispatch.Workers = n
		}
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
}
