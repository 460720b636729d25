package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/clipforge/clipforge/pkg/governor"
)

// SettingsHandler exposes the runtime concurrency limits.
type SettingsHandler struct {
	governor *governor.Governor
}

// NewSettingsHandler creates the settings handler.
func NewSettingsHandler(gov *governor.Governor) *SettingsHandler {
	return &SettingsHandler{governor: gov}
}

type concurrencyPayload struct {
	MaxConcurrentUploads   int `json:"maxConcurrentUploads"`
	MaxConcurrentDownloads int `json:"maxConcurrentDownloads"`
}

// GetConcurrency returns the live pool limits and occupancy.
func (h *SettingsHandler) GetConcurrency(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.governor.Stats())
}

// SetConcurrency resizes the transfer pools. Shrinking never interrupts
// transfers already in flight; the pool drains down to the new limit.
func (h *SettingsHandler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	var req concurrencyPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "malformed concurrency settings")
		return
	}

	if req.MaxConcurrentUploads > 0 {
		if err := h.governor.SetLimit(r.Context(), governor.PoolUploads, req.MaxConcurrentUploads); err != nil {
			Error(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
			return
		}
	}
	if req.MaxConcurrentDownloads > 0 {
		if err := h.governor.SetLimit(r.Context(), governor.PoolDownloads, req.MaxConcurrentDownloads); err != nil {
			Error(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
			return
		}
	}
	JSON(w, http.StatusOK, h.governor.Stats())
}
