package api

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/imagen-api/internal/domain"
)

func TestCreateTaskAcceptedAndPending(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	resp := env.request(t, http.MethodPost, "/task", token, validTaskBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var created TaskCreatedResponse
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.TaskID)

	// The task is durable and already pending.
	resp = env.request(t, http.MethodGet, "/task/"+string(created.TaskID), token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var statusBody map[string]json.RawMessage
	decodeBody(t, resp, &statusBody)
	assert.JSONEq(t, `"pending"`, string(statusBody["event_type"]))
	assert.JSONEq(t, `"`+string(created.TaskID)+`"`, string(statusBody["task_id"]))
}

func TestCreateTaskRequiresAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.request(t, http.MethodPost, "/task", "", validTaskBody())
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCreateTaskRejectsUnknownType(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	resp := env.request(t, http.MethodPost, "/task", token,
		[]byte(`{"task_type":"dream","model":"sd-2","prompt":"x"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateTaskRejectsInvalidParameters(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	// Missing prompt fails domain validation after defaults.
	resp := env.request(t, http.MethodPost, "/task", token,
		[]byte(`{"task_type":"txt2img","model":"sd-2"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetStatusUnknownTaskIs404(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	resp := env.request(t, http.MethodGet, "/task/no-such-task", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetStatusForeignTaskIs404(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	owner := env.registerAndLogin(t, "ada", "correct horse")
	other := env.registerAndLogin(t, "mallory", "sneaky sneaky")

	resp := env.request(t, http.MethodPost, "/task", owner, validTaskBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created TaskCreatedResponse
	decodeBody(t, resp, &created)

	// A foreign task and a missing task must be indistinguishable.
	foreign := env.request(t, http.MethodGet, "/task/"+string(created.TaskID), other, nil)
	missing := env.request(t, http.MethodGet, "/task/no-such-task", other, nil)
	assert.Equal(t, http.StatusNotFound, foreign.StatusCode)
	assert.Equal(t, http.StatusNotFound, missing.StatusCode)
}

func TestCancelSetsFlag(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	resp := env.request(t, http.MethodPost, "/task", token, validTaskBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created TaskCreatedResponse
	decodeBody(t, resp, &created)

	resp = env.request(t, http.MethodPost, "/task/"+string(created.TaskID)+"/cancel", token, nil)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	cancelled, err := env.tracker.IsCancelled(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.True(t, cancelled)

	// The queue is not filtered; the payload is still there for a worker,
	// which will observe the flag and abort.
	assert.IsType(t, domain.PendingEvent{}, mustLatest(t, env, created.TaskID))
}

func TestCancelForeignTaskIs404(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	owner := env.registerAndLogin(t, "ada", "correct horse")
	other := env.registerAndLogin(t, "mallory", "sneaky sneaky")

	resp := env.request(t, http.MethodPost, "/task", owner, validTaskBody())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var created TaskCreatedResponse
	decodeBody(t, resp, &created)

	resp = env.request(t, http.MethodPost, "/task/"+string(created.TaskID)+"/cancel", other, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	cancelled, err := env.tracker.IsCancelled(context.Background(), created.TaskID)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func mustLatest(t *testing.T, env *testEnv, taskID domain.TaskID) domain.Event {
	t.Helper()
	event, err := env.tracker.GetLatestEvent(context.Background(), taskID)
	require.NoError(t, err)
	require.NotNil(t, event)
	return event
}
