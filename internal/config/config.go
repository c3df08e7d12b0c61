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
	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" default:"downloads"`
	Retention         time.Duration `envconfig:"RETENTION" default:"10m"`
	CleanupRetry      time.Duration `envconfig:"CLEANUP_RETRY" default:"1m"`
	ProbeTimeout      time.Duration `envconfig:"PROBE_TIMEOUT" default:"30s"`
	FetchTimeout      time.Duration `envconfig:"FETCH_TIMEOUT" default:"0s"`
	DefaultResolution int           `envconfig:"DEFAULT_RESOLUTION" default:"1080"`
	OutputFormat      string        `envconfig:"OUTPUT_FORMAT" default:"mp4"`
	MaxActiveJobs     int           `envconfig:"MAX_ACTIVE_JOBS" default:"0"`
	YtdlpPath         string        `envconfig:"YTDLP_PATH"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`
	DBPath            string        `envconfig:"DB_PATH" default:"downloads.db"`
	OTLPEndpoint      string        `envconfig:"OTLP_ENDPOINT"`

	// Nested structs are prefixed with their field name, e.g. TELEMETRY_ENABLED.
	Telemetry struct {
		Enabled     bool   `envconfig:"ENABLED" default:"true"`
		ServiceName string `envconfig:"SERVICE_NAME" default:"mediafetch"`
	}

	Web struct {
		BindAddress string        `split_words:"true" default:"0.0.0.0:8080"`
		ReadTimeout time.Duration `split_words:"true" default:"30s"`
		// Streams of large artifacts outlive any sensible write deadline.
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DownloadDir) == "" {
		return fmt.Errorf("DOWNLOAD_DIR must not be empty")
	}

	if c.Retention <= 0 {
		return fmt.Errorf("RETENTION must be positive, got %s", c.Retention)
	}

	if c.DefaultResolution <= 0 {
		return fmt.Errorf("DEFAULT_RESOLUTION must be positive, got %d", c.DefaultResolution)
	}

	if c.MaxActiveJobs < 0 {
		return fmt.Errorf("MAX_ACTIVE_JOBS must not be negative, got %d", c.MaxActiveJobs)
	}

	if strings.TrimSpace(c.OutputFormat) == "" {
		return fmt.Errorf("OUTPUT_FORMAT must not be empty")
	}

	return nil
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
