package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/phrazzld/imagen-api/internal/api/middleware"
)

// Handlers bundles the API's handler set for route construction.
type Handlers struct {
	Auth   *AuthHandler
	Task   *TaskHandler
	Sync   *SyncHandler
	Blob   *BlobHandler
	Events *EventsHandler
}

// NewRouter assembles the HTTP routing tree. Login, registration and
// blob download are public; everything else requires a bearer token.
func NewRouter(h Handlers, authMW *middleware.AuthMiddleware) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Trace)
	r.Use(chimiddleware.Recoverer)

	r.Post("/token", h.Auth.IssueToken)
	r.Post("/user/{username}", h.Auth.CreateUser)
	// The signed token in the path is the download credential.
	r.Get("/blob/{token}", h.Blob.Download)

	r.Group(func(r chi.Router) {
		r.Use(authMW.Authenticate)

		r.Post("/task", h.Task.Create)
		r.Post("/txt2img", h.Sync.Txt2Img)
		r.Get("/task/{id}", h.Task.GetStatus)
		r.Post("/task/{id}/cancel", h.Task.Cancel)
		r.Post("/blob", h.Blob.Upload)
		r.Get("/events", h.Events.Stream)
	})

	return r
}
