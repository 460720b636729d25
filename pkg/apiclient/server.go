package apiclient

import (
	"context"
	"fmt"
	"net/url"
)

// Health is the server's liveness report.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	UptimeS  int64  `json:"uptimeSeconds"`
	Database string `json:"database"`
}

// GetHealth checks server and database health.
func (c *Client) GetHealth(ctx context.Context) (*Health, error) {
	var h Health
	if err := c.get(ctx, "/api/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// CheckSpaceRequest asks whether a prospective upload fits.
type CheckSpaceRequest struct {
	OriginalFileSize    int64 `json:"originalFileSize"`
	EstimatedOutputSize int64 `json:"estimatedOutputSize,omitempty"`
	IncludeTempSpace    bool  `json:"includeTempSpace"`
}

// CheckSpaceResult is the admission controller's verdict.
type CheckSpaceResult struct {
	HasEnoughSpace bool   `json:"hasEnoughSpace"`
	RequiredSpace  int64  `json:"requiredSpace"`
	AvailableSpace int64  `json:"availableSpace"`
	Details        string `json:"details,omitempty"`
}

// CheckSpace performs a pre-flight disk budget check.
func (c *Client) CheckSpace(ctx context.Context, req CheckSpaceRequest) (*CheckSpaceResult, error) {
	var result CheckSpaceResult
	if err := c.post(ctx, "/api/diskspace/check-space", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DiskConfig is the budget configuration in gigabytes.
type DiskConfig struct {
	MaxTotalSpaceGB float64 `json:"maxTotalSpaceGB"`
	ReservedSpaceGB float64 `json:"reservedSpaceGB"`
	IsEnabled       bool    `json:"isEnabled"`
}

// GetDiskConfig fetches the current budget configuration.
func (c *Client) GetDiskConfig(ctx context.Context) (*DiskConfig, error) {
	var config DiskConfig
	if err := c.get(ctx, "/api/diskspace/config", &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// SetDiskConfig replaces the budget configuration.
func (c *Client) SetDiskConfig(ctx context.Context, config DiskConfig) (*DiskConfig, error) {
	var applied DiskConfig
	if err := c.post(ctx, "/api/diskspace/config", config, &applied); err != nil {
		return nil, err
	}
	return &applied, nil
}

// DiskUsage is the live storage snapshot.
type DiskUsage struct {
	TotalSpace         int64            `json:"totalSpace"`
	UsedSpace          int64            `json:"usedSpace"`
	AvailableSpace     int64            `json:"availableSpace"`
	ReservedSpace      int64            `json:"reservedSpace"`
	UsagePercent       float64          `json:"usagePercent"`
	HasSufficientSpace bool             `json:"hasSufficientSpace"`
	Enabled            bool             `json:"enabled"`
	Breakdown          map[string]int64 `json:"breakdown,omitempty"`
}

// GetDiskUsage fetches the live usage snapshot.
func (c *Client) GetDiskUsage(ctx context.Context) (*DiskUsage, error) {
	var usage DiskUsage
	if err := c.get(ctx, "/api/diskspace/usage", &usage); err != nil {
		return nil, err
	}
	return &usage, nil
}

// CleanupReport summarizes one cleanup pass.
type CleanupReport struct {
	FilesRemoved int              `json:"filesRemoved"`
	BytesFreed   int64            `json:"bytesFreed"`
	ByCategory   map[string]int64 `json:"byCategory,omitempty"`
}

// TriggerCleanup runs a cleanup pass for the given scope (temp,
// downloads, logs, or all).
func (c *Client) TriggerCleanup(ctx context.Context, scope string, ignoreRetention bool) (*CleanupReport, error) {
	path := "/api/cleanup/cleanup/" + url.PathEscape(scope)
	if ignoreRetention {
		path += "?ignoreRetention=true"
	}
	var report CleanupReport
	if err := c.post(ctx, path, nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// PoolStats is live occupancy for one transfer pool.
type PoolStats struct {
	Limit   int `json:"limit"`
	InUse   int `json:"inUse"`
	Waiting int `json:"waiting"`
}

// ConcurrencySettings updates pool limits. Zero fields are unchanged.
type ConcurrencySettings struct {
	MaxConcurrentUploads   int `json:"maxConcurrentUploads,omitempty"`
	MaxConcurrentDownloads int `json:"maxConcurrentDownloads,omitempty"`
}

// GetConcurrency fetches the live pool limits and occupancy.
func (c *Client) GetConcurrency(ctx context.Context) (map[string]PoolStats, error) {
	var stats map[string]PoolStats
	if err := c.get(ctx, "/api/settings/concurrency", &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// SetConcurrency resizes the transfer pools.
func (c *Client) SetConcurrency(ctx context.Context, settings ConcurrencySettings) (map[string]PoolStats, error) {
	var stats map[string]PoolStats
	if err := c.post(ctx, "/api/settings/concurrency", settings, &stats); err != nil {
		return nil, err
	}
	return stats, nil
}

// ExtendRetention pushes a task's cleanup deadline further out.
func (c *Client) ExtendRetention(ctx context.Context, taskID string, hours int) error {
	body := map[string]int{"hours": hours}
	if err := c.post(ctx, fmt.Sprintf("/api/cleanup/retention/%s/extend", taskID), body, nil); err != nil {
		return err
	}
	return nil
}
