package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	DownloadDir string `envconfig:"DOWNLOAD_DIR" required:"true"`
	DBPath      string `envconfig:"DB_PATH" default:"transfers.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"INFO"`

	// ChunkSize is the read buffer for streaming transfers.
	ChunkSize int `envconfig:"CHUNK_SIZE" default:"32768"`

	// MaxConnections is recorded and logged but not enforced as a cap on
	// concurrently active transfers; whether it should be is an open
	// product decision.
	MaxConnections int `envconfig:"MAX_CONNECTIONS" default:"5"`

	SchedulerTick      time.Duration `envconfig:"SCHEDULER_TICK" default:"5s"`
	SchedulerTolerance time.Duration `envconfig:"SCHEDULER_TOLERANCE" default:"5s"`
	SchedulerGrace     time.Duration `envconfig:"SCHEDULER_GRACE" default:"3s"`

	WebhookURL string `envconfig:"WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `split_words:"true" default:"true"`
		OTLPEndpoint string `envconfig:"TELEMETRY_OTLP_ENDPOINT"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8085"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"30s"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
