// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidMaxMB is returned when MAX_MB is not a positive value.
	ErrInvalidMaxMB = errors.New("config: MAX_MB must be positive")
	// ErrInvalidOutputMode is returned when OUTPUT_MODE is not "parts" or "merged".
	ErrInvalidOutputMode = errors.New(`config: OUTPUT_MODE must be "parts" or "merged"`)
)

// Output modes for the pipeline.
const (
	// OutputParts delivers every segment as its own downloadable artifact.
	OutputParts = "parts"
	// OutputMerged re-concatenates transcoded segments into one artifact.
	OutputMerged = "merged"
)

// Config holds all configuration for the application.
// It is constructed once at process start and passed by reference into
// every component; nothing reads the environment after Load returns.
type Config struct {
	// Server settings
	Port int `env:"PORT, default=8080" json:"port"`

	// Upload and URL settings
	UploadDir string `env:"UPLOAD_DIR, default=uploads" json:"upload_dir"`
	BaseURL   string `env:"BASE_URL, default=http://localhost:8080" json:"base_url"`

	// Processing settings
	MaxMB                 int `env:"MAX_MB, default=25" json:"max_mb"`
	TranscodeTimeoutSec   int `env:"TRANSCODE_TIMEOUT_SEC, default=120" json:"transcode_timeout_sec"`
	SegmentWindowSec      int `env:"SEGMENT_WINDOW_SEC, default=300" json:"segment_window_sec"`
	MaxConcurrentSegments int `env:"MAX_CONCURRENT_SEGMENTS, default=1" json:"max_concurrent_segments"`

	// OutputMode selects how an over-ceiling result is delivered:
	// "parts" returns one URL per segment, "merged" concatenates the
	// transcoded segments back into a single artifact.
	OutputMode string `env:"OUTPUT_MODE, default=parts" json:"output_mode"`

	// Retention settings
	RetentionSec    int `env:"RETENTION_SEC, default=3600" json:"retention_sec"`
	FailureGraceSec int `env:"FAILURE_GRACE_SEC, default=5" json:"failure_grace_sec"`

	// External tool paths. Empty means "resolve via PATH".
	FFmpegPath  string `env:"FFMPEG_PATH" json:"ffmpeg_path,omitempty"`
	FFprobePath string `env:"FFPROBE_PATH" json:"ffprobe_path,omitempty"`

	// Optional S3 settings. S3Endpoint targets S3-compatible stores
	// (MinIO, localstack); empty means AWS.
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// MaxBytes returns the default size ceiling in bytes.
func (c *Config) MaxBytes() int64 {
	return int64(c.MaxMB) * 1024 * 1024
}

// Load reads configuration from environment variables using go-envconfig.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that the loaded configuration is coherent.
func (c *Config) Validate() error {
	if c.MaxMB <= 0 {
		return ErrInvalidMaxMB
	}
	if c.OutputMode != OutputParts && c.OutputMode != OutputMerged {
		return ErrInvalidOutputMode
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, UploadDir: %s, BaseURL: %s, MaxMB: %d, OutputMode: %s, RetentionSec: %d, TranscodeTimeoutSec: %d, S3Bucket: %s, S3Region: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.UploadDir,
		c.BaseURL,
		c.MaxMB,
		c.OutputMode,
		c.RetentionSec,
		c.TranscodeTimeoutSec,
		c.S3Bucket,
		c.S3Region,
		c.LogFormat,
		c.LogLevel,
	)
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
