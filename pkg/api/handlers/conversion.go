package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/internal/logger"
	"github.com/clipforge/clipforge/pkg/cleanup"
	"github.com/clipforge/clipforge/pkg/governor"
	"github.com/clipforge/clipforge/pkg/store/models"
	"github.com/clipforge/clipforge/pkg/task"
)

// ConversionHandler serves conversion status, cancel, and download.
type ConversionHandler struct {
	tasks    *task.Engine
	cleanup  *cleanup.Engine
	governor *governor.Governor
}

// NewConversionHandler creates the conversion endpoint handler. cleanup
// and governor may be nil.
func NewConversionHandler(tasks *task.Engine, cl *cleanup.Engine, gov *governor.Governor) *ConversionHandler {
	return &ConversionHandler{tasks: tasks, cleanup: cl, governor: gov}
}

// Status returns the full task row for a conversion.
func (h *ConversionHandler) Status(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	t, err := h.tasks.Get(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, models.ErrTaskNotFound) {
			Error(w, http.StatusNotFound, ErrTypeNotFound, "task not found")
			return
		}
		Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	JSON(w, http.StatusOK, t)
}

type successResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Cancel requests cancellation of a pending or running conversion.
func (h *ConversionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	if err := h.tasks.Cancel(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, models.ErrTaskNotFound):
			Error(w, http.StatusNotFound, ErrTypeNotFound, "task not found")
		case errors.Is(err, task.ErrNotCancellable):
			Error(w, http.StatusConflict, ErrTypeIllegalState, err.Error())
		default:
			Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		}
		return
	}
	JSON(w, http.StatusOK, successResponse{Success: true, Message: "cancellation requested"})
}

// Download streams the converted output. The transfer holds a download
// slot for its whole duration so concurrent downloads stay bounded.
func (h *ConversionHandler) Download(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	serve := func() error {
		t, path, err := h.tasks.OutputFile(r.Context(), taskID)
		if err != nil {
			switch {
			case errors.Is(err, models.ErrTaskNotFound):
				Error(w, http.StatusNotFound, ErrTypeNotFound, "task not found")
			case errors.Is(err, task.ErrOutputMissing):
				Error(w, http.StatusConflict, ErrTypeIllegalState, err.Error())
			default:
				Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
			}
			return nil
		}

		w.Header().Set("Content-Disposition", `attachment; filename="`+t.OutputFileName+`"`)
		http.ServeFile(w, r, path)

		// The download starts the retention clock.
		if h.cleanup != nil {
			if err := h.cleanup.RecordDownload(r.Context(), t, r.RemoteAddr); err != nil {
				logger.Warn("failed to record download for retention",
					logger.KeyTaskID, taskID,
					logger.KeyError, err,
				)
			}
		}
		return nil
	}

	if h.governor == nil {
		_ = serve()
		return
	}
	if err := h.governor.Execute(r.Context(), governor.PoolDownloads, serve); err != nil {
		Error(w, http.StatusServiceUnavailable, ErrTypeInternal, "download slot unavailable: "+err.Error())
	}
}
