package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipforge/clipforge/internal/bytesize"
	"github.com/clipforge/clipforge/pkg/store"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, 50*bytesize.MiB, cfg.Upload.ChunkSize)
	assert.Equal(t, 30*bytesize.GiB, cfg.Upload.MaxFileSize)
	assert.Equal(t, 24*time.Hour, cfg.Upload.SessionTTL)
	assert.Equal(t, store.DatabaseTypeSQLite, cfg.Database.Type)
	assert.True(t, *cfg.DiskBudget.Enabled)
}

func TestLoad_ParsesHumanReadableSizes(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
storage:
  data_dir: /srv/clipforge
upload:
  chunk_size: 16Mi
  max_file_size: 10Gi
  session_ttl: 12h
disk_budget:
  max_total_space: 50Gi
  reserved_space: 2Gi
encoder:
  workers: 4
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	assert.Equal(t, 16*bytesize.MiB, cfg.Upload.ChunkSize)
	assert.Equal(t, 10*bytesize.GiB, cfg.Upload.MaxFileSize)
	assert.Equal(t, 12*time.Hour, cfg.Upload.SessionTTL)
	assert.Equal(t, 50*bytesize.GiB, cfg.DiskBudget.MaxTotalSpace)
	assert.Equal(t, 4, cfg.Encoder.Workers)
}

func TestLoad_DerivesStorageLayoutFromDataDir(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: /srv/clipforge
  output_dir: /mnt/fast/outputs
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/srv/clipforge/uploads", cfg.Storage.UploadDir)
	assert.Equal(t, "/mnt/fast/outputs", cfg.Storage.OutputDir, "explicit value is preserved")
	assert.Equal(t, "/srv/clipforge/temp", cfg.Storage.TempDir)
	assert.Equal(t, "/srv/clipforge/logs", cfg.Storage.LogDir)
}

func TestLoad_InvalidLogLevel(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: verbose
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestValidate_ReservedSpaceBounds(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.DiskBudget.ReservedSpace = cfg.DiskBudget.MaxTotalSpace

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reserved_space")
}

func TestValidate_ChunkSizeBounds(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Upload.ChunkSize = 2 * bytesize.GiB
	cfg.Upload.MaxFileSize = 1 * bytesize.GiB

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Upload.ChunkSize = 16 * bytesize.MiB
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SaveConfig(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 16*bytesize.MiB, loaded.Upload.ChunkSize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestGetDefaultConfig_Validates(t *testing.T) {
	require.NoError(t, Validate(GetDefaultConfig()))
}
