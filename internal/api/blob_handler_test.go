package api

import (
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobUploadDownloadRoundTrip(t *testing.T) {
	env := newTestEnv(t, envOptions{signupEnabled: true})
	token := env.registerAndLogin(t, "ada", "correct horse")

	payload := []byte("source image bytes")
	resp := env.request(t, http.MethodPost, "/blob", token, payload)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created BlobCreatedResponse
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.BlobURL)

	// Download with the locator's token, no bearer auth.
	url := string(created.BlobURL)
	blobToken := url[strings.LastIndexByte(url, '/')+1:]
	resp = env.request(t, http.MethodGet, "/blob/"+blobToken, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestBlobUploadRequiresAuth(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.request(t, http.MethodPost, "/blob", "", []byte("payload"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestBlobDownloadGarbageTokenIs404(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp := env.request(t, http.MethodGet, "/blob/not-a-token", "", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
