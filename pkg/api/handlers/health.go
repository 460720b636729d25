package handlers

import (
	"net/http"
	"time"

	"github.com/clipforge/clipforge/pkg/store"
)

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	store   *store.GORMStore
	version string
	started time.Time
}

// NewHealthHandler creates the health handler.
func NewHealthHandler(st *store.GORMStore, version string) *HealthHandler {
	return &HealthHandler{store: st, version: version, started: time.Now()}
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version,omitempty"`
	UptimeS  int64  `json:"uptimeSeconds"`
	Database string `json:"database"`
}

// Check reports server and database health.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  h.version,
		UptimeS:  int64(time.Since(h.started).Seconds()),
		Database: "ok",
	}
	status := http.StatusOK

	if h.store != nil {
		if err := h.store.HealthCheck(); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	JSON(w, status, resp)
}
