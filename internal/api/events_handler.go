package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/phrazzld/imagen-api/internal/api/middleware"
	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/router"
)

// EventsHandler serves the websocket event stream.
type EventsHandler struct {
	router   *router.Router
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates an EventsHandler over the given subscription
// router.
func NewEventsHandler(r *router.Router, logger *slog.Logger) *EventsHandler {
	return &EventsHandler{
		router: r,
		upgrader: websocket.Upgrader{
			// The bearer token is the access control; origin checks add
			// nothing for a token-authenticated API.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger: logger.With("component", "events_handler"),
	}
}

// Stream handles GET /events: it upgrades to a websocket and pushes
// every event for the caller's session, each message one tagged event.
// Disconnecting tears down only the subscription; tasks keep running.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.GetUser(r)
	if !ok {
		shared.RespondWithError(w, r, http.StatusUnauthorized, "Authorization required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}

	sub := h.router.SubscribeToSession(user.SessionID)
	logger := h.logger.With("session_id", user.SessionID)
	logger.Debug("event stream opened")

	// Reader goroutine: the client sends nothing meaningful, but reading
	// is how we learn about disconnects.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				sub.Close()
				return
			}
		}
	}()

	defer func() {
		sub.Close()
		_ = conn.Close()
		logger.Debug("event stream closed")
	}()

	for event := range sub.Events() {
		data, err := domain.MarshalEvent(event)
		if err != nil {
			logger.Error("encoding event failed", "task_id", event.TaskID(), "error", err)
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}
