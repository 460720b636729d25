package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/pkg/cleanup"
	"github.com/clipforge/clipforge/pkg/store/models"
)

// CleanupHandler serves the manual cleanup and retention endpoints.
type CleanupHandler struct {
	cleanup *cleanup.Engine
}

// NewCleanupHandler creates the cleanup handler.
func NewCleanupHandler(cl *cleanup.Engine) *CleanupHandler {
	return &CleanupHandler{cleanup: cl}
}

// Trigger runs one cleanup pass for the requested scope. With
// ignoreRetention=true the retention window is bypassed, but files of
// non-terminal tasks are still never touched.
func (h *CleanupHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	scope, err := cleanup.ParseScope(chi.URLParam(r, "type"))
	if err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, err.Error())
		return
	}
	ignoreRetention := r.URL.Query().Get("ignoreRetention") == "true"

	report, err := h.cleanup.Perform(r.Context(), scope, ignoreRetention)
	if err != nil {
		Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	JSON(w, http.StatusOK, report)
}

type extendRetentionRequest struct {
	Hours int `json:"hours"`
}

// ExtendRetention pushes a task's cleanup deadline further out.
func (h *CleanupHandler) ExtendRetention(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	var req extendRetentionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "malformed extend-retention request")
		return
	}
	if req.Hours <= 0 {
		Error(w, http.StatusBadRequest, ErrTypeValidation, "hours must be positive")
		return
	}

	rec, err := h.cleanup.ExtendRetention(r.Context(), taskID, time.Duration(req.Hours)*time.Hour)
	if err != nil {
		if errors.Is(err, models.ErrRetentionNotFound) {
			Error(w, http.StatusNotFound, ErrTypeNotFound, "no pending retention record for task")
			return
		}
		Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	JSON(w, http.StatusOK, rec)
}
