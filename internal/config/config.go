package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath   string `envconfig:"DB_PATH" default:"musicdl.db"`

	// TempDir is the private directory the fetcher writes partial files to.
	TempDir string `envconfig:"TEMP_DIR"`
	// Destination seeds the stored destination when none has been chosen yet.
	Destination string `envconfig:"DESTINATION"`

	ResolverBaseURL string        `envconfig:"RESOLVER_BASE_URL" default:"http://localhost:8080"`
	ResolveTimeout  time.Duration `envconfig:"RESOLVE_TIMEOUT" default:"10s"`

	TempRetention   time.Duration `envconfig:"TEMP_RETENTION" default:"24h"`
	CleanupInterval time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled     bool   `split_words:"true" default:"true"`
		ServiceName string `split_words:"true" default:"musicdl"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:9092"`
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

	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(os.TempDir(), "musicdl")
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
