package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/imagen-api/internal/api/shared"
	"github.com/phrazzld/imagen-api/internal/blob"
	"github.com/phrazzld/imagen-api/internal/domain"
)

// maxBlobBytes bounds uploaded blob payloads.
const maxBlobBytes = 32 << 20

// BlobHandler serves blob upload and download.
type BlobHandler struct {
	blobs  *blob.Store
	logger *slog.Logger
}

// NewBlobHandler creates a BlobHandler.
func NewBlobHandler(blobs *blob.Store, logger *slog.Logger) *BlobHandler {
	return &BlobHandler{
		blobs:  blobs,
		logger: logger.With("component", "blob_handler"),
	}
}

// Upload handles POST /blob, storing the raw body and returning its
// locator.
func (h *BlobHandler) Upload(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBlobBytes))
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	url, err := h.blobs.Put(r.Context(), data)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Blob upload failed", err)
		return
	}

	shared.RespondWithJSON(w, r, http.StatusCreated, BlobCreatedResponse{BlobURL: url})
}

// Download handles GET /blob/{token}. The signed token in the path is
// the only credential; no bearer auth is required, which lets locators
// be shared directly.
func (h *BlobHandler) Download(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	data, err := h.blobs.Get(r.Context(), domain.BlobURL(token))
	if err != nil {
		if errors.Is(err, blob.ErrBlobNotFound) {
			shared.RespondWithError(w, r, http.StatusNotFound, "Blob not found")
			return
		}
		shared.RespondWithErrorAndLog(w, r, http.StatusInternalServerError, "Blob download failed", err)
		return
	}

	w.Header().Set("Content-Type", http.DetectContentType(data))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.logger.Debug("blob write interrupted", "error", err)
	}
}
