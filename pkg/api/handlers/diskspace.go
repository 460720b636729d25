package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/diskspace"
	"github.com/clipforge/clipforge/pkg/store"
)

// DiskSpaceHandler serves the disk budget endpoints.
type DiskSpaceHandler struct {
	disk  *diskspace.Manager
	store *store.GORMStore
}

// NewDiskSpaceHandler creates the disk budget handler. store may be nil,
// in which case configuration changes are not persisted.
func NewDiskSpaceHandler(disk *diskspace.Manager, st *store.GORMStore) *DiskSpaceHandler {
	return &DiskSpaceHandler{disk: disk, store: st}
}

type checkSpaceRequest struct {
	OriginalFileSize    int64 `json:"originalFileSize"`
	EstimatedOutputSize int64 `json:"estimatedOutputSize"`
	IncludeTempSpace    bool  `json:"includeTempSpace"`
}

// CheckSpace answers whether a prospective upload fits the budget.
func (h *DiskSpaceHandler) CheckSpace(w http.ResponseWriter, r *http.Request) {
	var req checkSpaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "malformed check-space request")
		return
	}
	if req.OriginalFileSize <= 0 {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "originalFileSize must be positive")
		return
	}
	JSON(w, http.StatusOK, h.disk.CheckSpace(req.OriginalFileSize, req.EstimatedOutputSize, req.IncludeTempSpace))
}

type diskConfigPayload struct {
	MaxTotalSpaceGB float64 `json:"maxTotalSpaceGB"`
	ReservedSpaceGB float64 `json:"reservedSpaceGB"`
	IsEnabled       bool    `json:"isEnabled"`
}

const bytesPerGB = 1 << 30

func configToPayload(c diskspace.Config) diskConfigPayload {
	return diskConfigPayload{
		MaxTotalSpaceGB: float64(c.MaxTotalBytes) / bytesPerGB,
		ReservedSpaceGB: float64(c.ReservedBytes) / bytesPerGB,
		IsEnabled:       c.Enabled,
	}
}

// GetConfig returns the current budget configuration in gigabytes.
func (h *DiskSpaceHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, configToPayload(h.disk.Config()))
}

// SetConfig replaces the budget configuration and persists it so a
// restart keeps the operator's values.
func (h *DiskSpaceHandler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var req diskConfigPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "malformed disk config")
		return
	}
	if req.MaxTotalSpaceGB <= 0 {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "maxTotalSpaceGB must be positive")
		return
	}
	if req.ReservedSpaceGB < 0 || req.ReservedSpaceGB >= req.MaxTotalSpaceGB {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "reservedSpaceGB must be non-negative and below maxTotalSpaceGB")
		return
	}

	config := diskspace.Config{
		MaxTotalBytes: int64(req.MaxTotalSpaceGB * bytesPerGB),
		ReservedBytes: int64(req.ReservedSpaceGB * bytesPerGB),
		Enabled:       req.IsEnabled,
	}
	h.disk.SetConfig(config)

	if h.store != nil {
		ctx := r.Context()
		if err := h.store.SetSettingInt64(ctx, store.SettingDiskMaxTotalBytes, config.MaxTotalBytes); err != nil {
			logger.Warn("failed to persist disk budget setting", "key", store.SettingDiskMaxTotalBytes, logger.KeyError, err)
		}
		if err := h.store.SetSettingInt64(ctx, store.SettingDiskReservedBytes, config.ReservedBytes); err != nil {
			logger.Warn("failed to persist disk budget setting", "key", store.SettingDiskReservedBytes, logger.KeyError, err)
		}
		if err := h.store.SetSettingBool(ctx, store.SettingDiskBudgetEnabled, config.Enabled); err != nil {
			logger.Warn("failed to persist disk budget setting", "key", store.SettingDiskBudgetEnabled, logger.KeyError, err)
		}
	}

	JSON(w, http.StatusOK, configToPayload(config))
}

// Usage returns the live usage snapshot, refreshed from disk.
func (h *DiskSpaceHandler) Usage(w http.ResponseWriter, r *http.Request) {
	if err := h.disk.Refresh(); err != nil {
		logger.Warn("disk usage refresh failed", logger.KeyError, err)
	}
	JSON(w, http.StatusOK, h.disk.GetStatus())
}
