// Package governor bounds server-side transfer concurrency.
//
// Two independently sized pools gate uploads and downloads. Limits survive
// restarts via the settings store and can be resized live without dropping
// queued waiters.
package governor

import (
	"context"
	"fmt"

	"github.com/clipforge/clipforge/internal/logger"
)

// PoolKind selects one of the governed pools.
type PoolKind string

const (
	PoolUploads   PoolKind = "uploads"
	PoolDownloads PoolKind = "downloads"
)

// Default pool sizes.
const (
	DefaultMaxConcurrentUploads   = 3
	DefaultMaxConcurrentDownloads = 3
)

// Settings keys under which limits persist.
const (
	settingUploads   = "max_concurrent_uploads"
	settingDownloads = "max_concurrent_downloads"
)

// SettingsStore persists pool limits across restarts.
// *store.GORMStore satisfies this.
type SettingsStore interface {
	GetSettingInt(ctx context.Context, key string, fallback int) (int, error)
	SetSettingInt(ctx context.Context, key string, value int) error
}

// Governor owns the upload and download pools.
type Governor struct {
	uploads   *Pool
	downloads *Pool
	settings  SettingsStore
}

// New creates a governor, restoring persisted limits when a settings store
// is provided. settings may be nil (limits then live in memory only).
func New(ctx context.Context, settings SettingsStore) *Governor {
	uploadLimit := DefaultMaxConcurrentUploads
	downloadLimit := DefaultMaxConcurrentDownloads

	if settings != nil {
		if n, err := settings.GetSettingInt(ctx, settingUploads, uploadLimit); err == nil {
			uploadLimit = n
		}
		if n, err := settings.GetSettingInt(ctx, settingDownloads, downloadLimit); err == nil {
			downloadLimit = n
		}
	}

	return &Governor{
		uploads:   NewPool(uploadLimit),
		downloads: NewPool(downloadLimit),
		settings:  settings,
	}
}

// Execute runs fn while holding one slot of the selected pool, blocking for
// admission until a slot frees or ctx is done.
func (g *Governor) Execute(ctx context.Context, kind PoolKind, fn func() error) error {
	pool, err := g.pool(kind)
	if err != nil {
		return err
	}

	if err := pool.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire %s slot: %w", kind, err)
	}
	defer pool.Release()

	return fn()
}

// SetLimit resizes a pool and persists the new limit.
func (g *Governor) SetLimit(ctx context.Context, kind PoolKind, limit int) error {
	if limit < 1 {
		return fmt.Errorf("limit for %s must be at least 1", kind)
	}

	pool, err := g.pool(kind)
	if err != nil {
		return err
	}
	pool.Resize(limit)

	if g.settings != nil {
		key := settingUploads
		if kind == PoolDownloads {
			key = settingDownloads
		}
		if err := g.settings.SetSettingInt(ctx, key, limit); err != nil {
			return fmt.Errorf("persist %s limit: %w", kind, err)
		}
	}

	logger.Info("concurrency limit changed", "pool", string(kind), "limit", limit)
	return nil
}

// PoolStats describes one pool's live state.
type PoolStats struct {
	Limit   int `json:"limit"`
	InUse   int `json:"inUse"`
	Waiting int `json:"waiting"`
}

// Stats returns live state for both pools.
func (g *Governor) Stats() map[PoolKind]PoolStats {
	return map[PoolKind]PoolStats{
		PoolUploads: {
			Limit:   g.uploads.Limit(),
			InUse:   g.uploads.InUse(),
			Waiting: g.uploads.Waiting(),
		},
		PoolDownloads: {
			Limit:   g.downloads.Limit(),
			InUse:   g.downloads.InUse(),
			Waiting: g.downloads.Waiting(),
		},
	}
}

func (g *Governor) pool(kind PoolKind) (*Pool, error) {
	switch kind {
	case PoolUploads:
		return g.uploads, nil
	case PoolDownloads:
		return g.downloads, nil
	default:
		return nil, fmt.Errorf("unknown pool %q", kind)
	}
}
