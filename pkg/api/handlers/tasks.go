package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/clipforge/clipforge/pkg/store"
	"github.com/clipforge/clipforge/pkg/store/models"
	"github.com/clipforge/clipforge/pkg/task"
)

// TaskHandler serves the task history endpoints.
type TaskHandler struct {
	tasks *task.Engine
}

// NewTaskHandler creates the task history handler.
func NewTaskHandler(tasks *task.Engine) *TaskHandler {
	return &TaskHandler{tasks: tasks}
}

// List returns a page of tasks, newest first, optionally filtered by
// status and a name substring.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	filter := store.TaskFilter{
		Status:   models.TaskStatus(q.Get("status")),
		Search:   q.Get("search"),
		Page:     page,
		PageSize: pageSize,
	}

	result, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		return
	}
	JSON(w, http.StatusOK, result)
}

// Delete removes a task record and its files. Running tasks must be
// cancelled first.
func (h *TaskHandler) Delete(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskId")

	if err := h.tasks.Delete(r.Context(), taskID); err != nil {
		switch {
		case errors.Is(err, models.ErrTaskNotFound):
			Error(w, http.StatusNotFound, ErrTypeNotFound, "task not found")
		case errors.Is(err, task.ErrTaskRunning):
			Error(w, http.StatusConflict, ErrTypeIllegalState, err.Error())
		default:
			Error(w, http.StatusInternalServerError, ErrTypeInternal, err.Error())
		}
		return
	}
	JSON(w, http.StatusOK, successResponse{Success: true, Message: "task deleted"})
}
