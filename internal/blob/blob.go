// Package blob stores opaque binary payloads (generated images, source
// images, masks) and hands out capability-style locators for them. A
// locator is a base URL plus a signed token embedding the blob id;
// possession of a valid locator is the only credential needed to fetch
// the bytes, which lets results be shared by URL without an ownership
// index.
package blob

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/store"
)

// CollectionBlobData is the key-value collection holding blob payloads,
// base64-encoded, keyed by blob id.
const CollectionBlobData = "blob_data"

// ErrBlobNotFound is returned when a locator does not resolve to stored
// bytes. An invalid or foreign-signed token is indistinguishable from a
// missing blob on purpose: the response must not reveal whether the id
// exists.
var ErrBlobNotFound = errors.New("blob not found")

// Store persists blobs and mints signed locators for them.
type Store struct {
	kv      store.KeyValueStore
	secret  []byte
	baseURL string
	logger  *slog.Logger
}

// NewStore creates a blob store. baseURL is the externally reachable
// prefix under which locators are served, without a trailing slash.
func NewStore(kv store.KeyValueStore, secret []byte, baseURL string, logger *slog.Logger) *Store {
	return &Store{
		kv:      kv,
		secret:  secret,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("component", "blob_store"),
	}
}

type blobClaims struct {
	BlobID string `json:"blob_id"`
	jwt.RegisteredClaims
}

// Put stores the payload and returns its signed locator. Empty payloads
// are valid blobs.
func (s *Store) Put(ctx context.Context, data []byte) (domain.BlobURL, error) {
	id := uuid.New().String()
	encoded := base64.StdEncoding.EncodeToString(data)
	if err := s.kv.Store(ctx, CollectionBlobData, id, encoded); err != nil {
		return "", fmt.Errorf("storing blob %s: %w", id, err)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, blobClaims{BlobID: id})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing blob token: %w", err)
	}

	s.logger.Debug("blob stored", "blob_id", id, "size_bytes", len(data))
	return domain.BlobURL(s.baseURL + "/" + signed), nil
}

// Get resolves a locator back to the stored bytes. Any locator that does
// not verify against this store's secret, or whose blob is gone, yields
// ErrBlobNotFound.
func (s *Store) Get(ctx context.Context, url domain.BlobURL) ([]byte, error) {
	id, err := s.verify(tokenFromURL(url))
	if err != nil {
		s.logger.Debug("blob token rejected", "error", err)
		return nil, ErrBlobNotFound
	}

	encoded, found, err := s.kv.Retrieve(ctx, CollectionBlobData, id)
	if err != nil {
		return nil, fmt.Errorf("retrieving blob %s: %w", id, err)
	}
	if !found {
		return nil, ErrBlobNotFound
	}
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decoding blob %s: %w", id, err)
	}
	return data, nil
}

// verify checks the token signature and extracts the blob id.
func (s *Store) verify(tokenString string) (string, error) {
	claims := &blobClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return "", err
	}
	if !token.Valid || claims.BlobID == "" {
		return "", errors.New("invalid blob token")
	}
	return claims.BlobID, nil
}

// tokenFromURL takes the final path segment, so both full locators and
// bare tokens resolve.
func tokenFromURL(url domain.BlobURL) string {
	raw := string(url)
	if i := strings.LastIndexByte(raw, '/'); i >= 0 {
		return raw[i+1:]
	}
	return raw
}
