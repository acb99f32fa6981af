package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imagen-api/internal/api/middleware"
	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/broker"
	"github.com/phrazzld/imagen-api/internal/bus"
	"github.com/phrazzld/imagen-api/internal/dispatch"
	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/router"
	"github.com/phrazzld/imagen-api/internal/service/auth"
	"github.com/phrazzld/imagen-api/internal/status"
	"github.com/phrazzld/imagen-api/internal/store"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testEnv struct {
	server      *httptest.Server
	authService *auth.Service
	tracker     *status.Tracker
	eventBus    *bus.EventBus
	broker      *broker.MemoryBroker
	blobs       *blob.Store
}

type envOptions struct {
	publicAccess  bool
	signupEnabled bool
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	logger := setupTestLogger()
	b := broker.NewMemoryBroker()
	kv := store.NewMemoryStore()
	tracker := status.NewTracker(kv)
	eventBus := bus.NewEventBus(b, tracker, logger)
	submitter := dispatch.NewSubmitter(b, eventBus, tracker, logger)
	blobs := blob.NewStore(kv, []byte("test-secret"), "http://localhost:8000/blob", logger)
	authService := auth.NewService(kv, []byte("auth-secret"), time.Hour, opts.publicAccess, logger)

	subRouter := router.New(bus.NewListener(b, logger), logger)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, subRouter.Start(ctx))
	t.Cleanup(func() {
		cancel()
		subRouter.Wait()
	})

	handler := NewRouter(Handlers{
		Auth:   NewAuthHandler(authService, opts.signupEnabled, logger),
		Task:   NewTaskHandler(submitter, tracker, logger),
		Sync:   NewSyncHandler(submitter, subRouter, blobs, logger),
		Blob:   NewBlobHandler(blobs, logger),
		Events: NewEventsHandler(subRouter, logger),
	}, middleware.NewAuthMiddleware(authService))

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return &testEnv{
		server:      server,
		authService: authService,
		tracker:     tracker,
		eventBus:    eventBus,
		broker:      b,
		blobs:       blobs,
	}
}

// registerAndLogin creates a user and returns a bearer token for it.
func (e *testEnv) registerAndLogin(t *testing.T, username, password string) string {
	t.Helper()
	require.NoError(t, e.authService.RegisterUser(context.Background(), domain.Username(username), password))
	token, err := e.authService.IssueToken(context.Background(), domain.Username(username), password)
	require.NoError(t, err)
	return token
}

func (e *testEnv) request(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case []byte:
		reader = bytes.NewReader(b)
	default:
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := e.server.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func validTaskBody() []byte {
	return []byte(`{
		"task_type": "txt2img",
		"model": "sd-2",
		"prompt": "a corgi wearing a top hat",
		"steps": 2
	}`)
}
