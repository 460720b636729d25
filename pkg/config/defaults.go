package config

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/pkg/store"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applyDatabaseDefaults(&cfg.Database)
	applyStorageDefaults(&cfg.Storage)
	applyUploadDefaults(&cfg.Upload)
	applyDiskBudgetDefaults(&cfg.DiskBudget)
	applyEncoderDefaults(&cfg.Encoder)
	applyCleanupDefaults(&cfg.Cleanup)
	applyConcurrencyDefaults(&cfg.Concurrency)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// API server defaults are applied by api.NewServer itself.

func applyDatabaseDefaults(cfg *store.Config) {
	cfg.ApplyDefaults()
}

// applyStorageDefaults derives the managed directories from DataDir.
func applyStorageDefaults(cfg *StorageConfig) {
	if cfg.DataDir == "" {
		cfg.DataDir = "/var/lib/clipforge"
	}
	if cfg.UploadDir == "" {
		cfg.UploadDir = filepath.Join(cfg.DataDir, "uploads")
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.DataDir, "outputs")
	}
	if cfg.TempDir == "" {
		cfg.TempDir = filepath.Join(cfg.DataDir, "temp")
	}
	if cfg.LogDir == "" {
		cfg.LogDir = filepath.Join(cfg.DataDir, "logs")
	}
}

func applyUploadDefaults(cfg *UploadConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 50 * bytesize.MiB
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 30 * bytesize.GiB
	}
	if cfg.SessionTTL == 0 {
		cfg.SessionTTL = 24 * time.Hour
	}
	if cfg.QuickFingerprintThreshold == 0 {
		cfg.QuickFingerprintThreshold = 500 * bytesize.MiB
	}
}

func applyDiskBudgetDefaults(cfg *DiskBudgetConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	if cfg.MaxTotalSpace == 0 {
		cfg.MaxTotalSpace = 100 * bytesize.GiB
	}
	if cfg.ReservedSpace == 0 {
		cfg.ReservedSpace = 5 * bytesize.GiB
	}
}

func applyEncoderDefaults(cfg *EncoderConfig) {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Workers == 0 {
		cfg.Workers = 2
	}
	if cfg.ProgressInterval == 0 {
		cfg.ProgressInterval = 500 * time.Millisecond
	}
}

func applyCleanupDefaults(cfg *CleanupConfig) {
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = 24 * time.Hour
	}
	if cfg.TempMaxAge == 0 {
		cfg.TempMaxAge = 6 * time.Hour
	}
	if cfg.LogMaxAge == 0 {
		cfg.LogMaxAge = 7 * 24 * time.Hour
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 15 * time.Minute
	}
}

func applyConcurrencyDefaults(cfg *ConcurrencyConfig) {
	if cfg.MaxConcurrentUploads == 0 {
		cfg.MaxConcurrentUploads = 3
	}
	if cfg.MaxConcurrentDownloads == 0 {
		cfg.MaxConcurrentDownloads = 3
	}
}

// GetDefaultConfig returns a Config struct with all default values
// applied. Useful for generating sample configuration files and tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Database: store.Config{
			Type: store.DatabaseTypeSQLite,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}
