package store

import (
	"context"
	"errors"
	"strconv"
	"time"

	"gorm.io/gorm"

	"github.com/clipforge/clipforge/pkg/store/models"
)

// ============================================
// SETTINGS OPERATIONS
// ============================================

// Well-known setting keys.
const (
	SettingMaxConcurrentUploads   = "max_concurrent_uploads"
	SettingMaxConcurrentDownloads = "max_concurrent_downloads"
	SettingDiskMaxTotalBytes      = "disk_max_total_bytes"
	SettingDiskReservedBytes      = "disk_reserved_bytes"
	SettingDiskBudgetEnabled      = "disk_budget_enabled"
)

// GetSetting returns a setting value, or "" when the key is absent.
func (s *GORMStore) GetSetting(ctx context.Context, key string) (string, error) {
	var setting models.Setting
	if err := s.db.WithContext(ctx).Where("key = ?", key).First(&setting).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return setting.Value, nil
}

// SetSetting stores a setting value, inserting or updating as needed.
func (s *GORMStore) SetSetting(ctx context.Context, key, value string) error {
	setting := models.Setting{
		Key:       key,
		Value:     value,
		UpdatedAt: time.Now(),
	}
	return s.db.WithContext(ctx).Save(&setting).Error
}

// DeleteSetting removes a setting.
func (s *GORMStore) DeleteSetting(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&models.Setting{}).Error
}

// ListSettings returns all settings.
func (s *GORMStore) ListSettings(ctx context.Context) ([]*models.Setting, error) {
	var settings []*models.Setting
	if err := s.db.WithContext(ctx).Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

// GetSettingInt returns an integer setting, or fallback when absent or
// unparseable.
func (s *GORMStore) GetSettingInt(ctx context.Context, key string, fallback int) (int, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// GetSettingInt64 returns a 64-bit integer setting, or fallback.
func (s *GORMStore) GetSettingInt64(ctx context.Context, key string, fallback int64) (int64, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback, nil
	}
	return n, nil
}

// GetSettingBool returns a boolean setting, or fallback.
func (s *GORMStore) GetSettingBool(ctx context.Context, key string, fallback bool) (bool, error) {
	raw, err := s.GetSetting(ctx, key)
	if err != nil {
		return fallback, err
	}
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback, nil
	}
	return b, nil
}

// SetSettingInt stores an integer setting.
func (s *GORMStore) SetSettingInt(ctx context.Context, key string, value int) error {
	return s.SetSetting(ctx, key, strconv.Itoa(value))
}

// SetSettingInt64 stores a 64-bit integer setting.
func (s *GORMStore) SetSettingInt64(ctx context.Context, key string, value int64) error {
	return s.SetSetting(ctx, key, strconv.FormatInt(value, 10))
}

// SetSettingBool stores a boolean setting.
func (s *GORMStore) SetSettingBool(ctx context.Context, key string, value bool) error {
	return s.SetSetting(ctx, key, strconv.FormatBool(value))
}
