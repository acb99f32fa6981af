package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/phrazzld/imagen-api/internal/api/middleware"
	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/router"
	"github.com/phrazzld/imagen-api/internal/store"
)

// SyncHandler serves the blocking convenience endpoint: submit a task,
// wait for its terminal event, and return the image bytes in one
// request. It subscribes per-task and closes the subscription after the
// terminal event; a client that disconnects mid-wait tears down only the
// subscription, the task keeps running.
type SyncHandler struct {
	submitter *dispatch.Submitter
	router    *router.Router
	blobs     *blob.Store
	logger    *slog.Logger
}

// NewSyncHandler creates a SyncHandler.
func NewSyncHandler(submitter *dispatch.Submitter, r *router.Router, blobs *blob.Store, logger *slog.Logger) *SyncHandler {
	return &SyncHandler{
		submitter: submitter,
		router:    r,
		blobs:     blobs,
		logger:    logger.With("component", "sync_handler"),
	}
}

// Txt2Img handles POST /txt2img. The body is txt2img parameters (no
// task_type tag needed); the response is the generated image.
func (h *SyncHandler) Txt2Img(w http.ResponseWriter, r *http.Request) {
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

	params := &domain.Txt2ImgParams{}
	if err := json.Unmarshal(body, params); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid task parameters")
		return
	}
	params.ApplyDefaults()
	if err := params.Validate(); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	task := domain.NewTask(params, user)

	// Subscribe before submitting so the terminal event cannot slip past
	// between enqueue and registration.
	sub := h.router.SubscribeToTask(task.ID)
	defer sub.Close()

	if err := h.submitter.Submit(r.Context(), task); err != nil {
		if errors.Is(err, broker.ErrUnavailable) || errors.Is(err, store.ErrUnavailable) {
			shared.RespondWithErrorAndLog(w, r, http.StatusServiceUnavailable, "Service temporarily unavailable", err)
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Task submission failed", err)
		return
	}
	h.logger.Debug("waiting for task", "task_id", task.ID)

	for {
		select {
		case <-r.Context().Done():
			// Client gone; the task keeps running, only the wait ends.
			return
		case event, open := <-sub.Events():
			if !open {
				shared.RespondWithError(w, r, http.StatusServiceUnavailable, "Event stream closed")
				return
			}
			if !event.Terminal() {
				continue
			}
			h.respondTerminal(w, r, event)
			return
		}
	}
}

func (h *SyncHandler) respondTerminal(w http.ResponseWriter, r *http.Request, event domain.Event) {
	switch e := event.(type) {
	case domain.FinishedEvent:
		data, err := h.blobs.Get(r.Context(), e.Result.BlobURL)
		if err != nil {
			shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Result retrieval failed", err)
			return
		}
		w.Header().Set("Content-Type", http.DetectContentType(data))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			h.logger.Debug("image write interrupted", "task_id", e.ID, "error", err)
		}
	case domain.AbortedEvent:
		shared.RespondWithError(w, r, http.StatusInternalServerError, e.Reason)
	default:
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Unexpected terminal event", nil)
	}
}
