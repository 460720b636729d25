// Package config loads and validates the server configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/pkg/api"
	"github.com/clipforge/clipforge/pkg/store"
)

// Config represents the transcoding server configuration.
//
// This structure captures the static configuration of the server:
//   - Logging configuration
//   - API server settings (port, timeouts)
//   - Storage layout (upload, output, temp, and log directories)
//   - Upload limits (chunk size, max file size, session lifetime)
//   - Disk budget (admission control)
//   - Encoder settings (ffmpeg binaries, workers)
//   - Cleanup policy (retention, temp and log ages)
//   - Database connection (task history persistence)
//
// Runtime-tunable values (disk budget, concurrency limits) are also
// adjustable through the REST API and persisted in the settings table;
// persisted values win over this file on startup.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (CLIPFORGE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// API contains the REST API server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Database configures task history persistence (SQLite or PostgreSQL)
	Database store.Config `mapstructure:"database" yaml:"database"`

	// Storage lays out the managed directories
	Storage StorageConfig `mapstructure:"storage" yaml:"storage"`

	// Upload bounds the chunked upload protocol
	Upload UploadConfig `mapstructure:"upload" yaml:"upload"`

	// DiskBudget configures upload admission control
	DiskBudget DiskBudgetConfig `mapstructure:"disk_budget" yaml:"disk_budget"`

	// Encoder configures the external ffmpeg processes
	Encoder EncoderConfig `mapstructure:"encoder" yaml:"encoder"`

	// Cleanup configures the retention and sweep policy
	Cleanup CleanupConfig `mapstructure:"cleanup" yaml:"cleanup"`

	// Concurrency seeds the transfer pool limits. Values changed through
	// the API are persisted and win on the next boot.
	Concurrency ConcurrencyConfig `mapstructure:"concurrency" yaml:"concurrency"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// StorageConfig lays out the directories the server manages.
type StorageConfig struct {
	// DataDir is the root for all managed storage. The specific
	// directories below default to subdirectories of it.
	DataDir string `mapstructure:"data_dir" validate:"required" yaml:"data_dir"`

	// UploadDir holds merged upload artifacts.
	UploadDir string `mapstructure:"upload_dir" yaml:"upload_dir,omitempty"`

	// OutputDir holds transcoded outputs.
	OutputDir string `mapstructure:"output_dir" yaml:"output_dir,omitempty"`

	// TempDir holds in-flight chunk staging.
	TempDir string `mapstructure:"temp_dir" yaml:"temp_dir,omitempty"`

	// LogDir holds rotated log files, swept by the cleanup engine.
	LogDir string `mapstructure:"log_dir" yaml:"log_dir,omitempty"`
}

// UploadConfig bounds the chunked upload protocol.
type UploadConfig struct {
	// ChunkSize is the server-assigned chunk size.
	// Supports human-readable formats: "50Mi", "16MB"
	// Default: 50Mi
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`

	// MaxFileSize caps a single upload.
	// Default: 30Gi
	MaxFileSize bytesize.ByteSize `mapstructure:"max_file_size" yaml:"max_file_size,omitempty"`

	// SessionTTL is the idle lifetime of an upload session.
	// Default: 24h
	SessionTTL time.Duration `mapstructure:"session_ttl" yaml:"session_ttl,omitempty"`

	// QuickFingerprintThreshold is the file size above which the cheap
	// metadata fingerprint replaces full-content hashing.
	// Default: 500Mi
	QuickFingerprintThreshold bytesize.ByteSize `mapstructure:"quick_fingerprint_threshold" yaml:"quick_fingerprint_threshold,omitempty"`
}

// DiskBudgetConfig configures upload admission control.
type DiskBudgetConfig struct {
	// Enabled controls whether the budget is enforced.
	// Default: true. A pointer distinguishes "not set" from
	// "explicitly false".
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// MaxTotalSpace is the byte budget for all managed storage.
	// Default: 100Gi
	MaxTotalSpace bytesize.ByteSize `mapstructure:"max_total_space" yaml:"max_total_space,omitempty"`

	// ReservedSpace is headroom never handed out to uploads.
	// Default: 5Gi
	ReservedSpace bytesize.ByteSize `mapstructure:"reserved_space" yaml:"reserved_space,omitempty"`
}

// EncoderConfig configures the external ffmpeg processes.
type EncoderConfig struct {
	// FFmpegPath is the ffmpeg binary. Default: "ffmpeg" (from PATH)
	FFmpegPath string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path,omitempty"`

	// FFprobePath is the ffprobe binary. Default: "ffprobe" (from PATH)
	FFprobePath string `mapstructure:"ffprobe_path" yaml:"ffprobe_path,omitempty"`

	// Workers bounds concurrent encodes. Default: 2
	Workers int `mapstructure:"workers" validate:"omitempty,min=1" yaml:"workers,omitempty"`

	// ProgressInterval throttles progress persistence and push events.
	// Default: 500ms
	ProgressInterval time.Duration `mapstructure:"progress_interval" yaml:"progress_interval,omitempty"`
}

// CleanupConfig configures the retention and sweep policy.
type CleanupConfig struct {
	// RetentionPeriod is how long downloaded outputs survive after the
	// first download. Default: 24h
	RetentionPeriod time.Duration `mapstructure:"retention_period" yaml:"retention_period,omitempty"`

	// TempMaxAge is how long abandoned chunk sessions survive.
	// Default: 6h
	TempMaxAge time.Duration `mapstructure:"temp_max_age" yaml:"temp_max_age,omitempty"`

	// LogMaxAge is how long log files survive. Default: 168h (7 days)
	LogMaxAge time.Duration `mapstructure:"log_max_age" yaml:"log_max_age,omitempty"`

	// SweepInterval is how often the background sweep runs.
	// Default: 15m
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval,omitempty"`
}

// ConcurrencyConfig seeds the transfer pool limits.
type ConcurrencyConfig struct {
	// MaxConcurrentUploads bounds parallel upload transfers. Default: 3
	MaxConcurrentUploads int `mapstructure:"max_concurrent_uploads" validate:"omitempty,min=1" yaml:"max_concurrent_uploads,omitempty"`

	// MaxConcurrentDownloads bounds parallel downloads. Default: 3
	MaxConcurrentDownloads int `mapstructure:"max_concurrent_downloads" validate:"omitempty,min=1" yaml:"max_concurrent_downloads,omitempty"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (CLIPFORGE_*)
//  2. Configuration file
//  3. Default values
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: CLIPFORGE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("CLIPFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and integers to bytesize.ByteSize,
// so config files can use "50Mi", "30Gi", or plain numbers.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook converts strings to time.Duration, so config files
// can use "30s", "5m", "24h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to the
// current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "clipforge")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "clipforge")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
