package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/imagen-api/internal/api/middleware"
	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

// maxTaskBodyBytes bounds task submission payloads.
const maxTaskBodyBytes = 1 << 20

// TaskHandler serves task submission, status polling and cancellation.
type TaskHandler struct {
	submitter *dispatch.Submitter
	tracker   *status.Tracker
	logger    *slog.Logger
}

// NewTaskHandler creates a TaskHandler.
func NewTaskHandler(submitter *dispatch.Submitter, tracker *status.Tracker, logger *slog.Logger) *TaskHandler {
	return &TaskHandler{
		submitter: submitter,
		tracker:   tracker,
		logger:    logger.With("component", "task_handler"),
	}
}

// Create handles POST /task. The body is the tagged parameter union;
// the response is the task id, returned as soon as the task is durably
// queued.
func (h *TaskHandler) Create(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTaskBodyBytes))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	params, err := domain.UnmarshalParams(body)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownTaskType) {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Unknown task type")
			return
		}
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task parameters")
		return
	}

	domain.ApplyDefaults(params)
	if err := params.Validate(); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	task := domain.NewTask(params, user)
	if err := h.submitter.Submit(r.Context(), task); err != nil {
		if errors.Is(err, broker.ErrUnavailable) || errors.Is(err, store.ErrUnavailable) {
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable", err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Task submission failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskCreatedResponse{TaskID: task.ID})
}

// GetStatus handles GET /task/{id}, returning the latest lifecycle
// event. A task that does not exist and a task owned by someone else
// produce the same 404.
func (h *TaskHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	event, err := h.tracker.GetLatestEvent(r.Context(), task.ID)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Status lookup failed", err)
		return
	}
	if event == nil {
		// The task exists but its pending event is not visible yet; report
		// it as pending rather than failing.
		event = domain.PendingEvent{ID: task.ID}
	}

	data, err := domain.MarshalEvent(event)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Status lookup failed", err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, json.RawMessage(data))
}

// Cancel handles POST /task/{id}/cancel. Cancellation is a one-way
// request flag; the running worker honors it at its next check.
func (h *TaskHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	task, ok := h.ownedTask(w, r)
	if !ok {
		return
	}

	if err := h.tracker.SetCancelled(r.Context(), task.ID); err != nil {
		if errors.Is(err, status.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Cancellation failed", err)
		return
	}

	h.logger.Info("task cancellation requested", "task_id", task.ID)
	shared.RespondWithJSON(w, r, http.StatusAccepted, TaskCreatedResponse{TaskID: task.ID})
}

// ownedTask loads the task from the URL and enforces ownership. Both a
// missing task and a foreign task answer 404, so existence cannot be
// probed.
func (h *TaskHandler) ownedTask(w http.ResponseWriter, r *http.Request) (domain.Task, bool) {
	user, ok := middleware.GetUser(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
		return domain.Task{}, false
	}

	taskID := domain.TaskID(chi.URLParam(r, "id"))
	task, err := h.tracker.GetTask(r.Context(), taskID)
	if err != nil {
		if errors.Is(err, status.ErrTaskNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
			return domain.Task{}, false
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Task lookup failed", err)
		return domain.Task{}, false
	}
	if task.User.Username != user.Username {
		shared.RespondWithError(w, r, http.StatusNotFound, "Task not found")
		return domain.Task{}, false
	}
	return task, true
}
