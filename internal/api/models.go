package api

import "github.com/phrazzld/imagen-api/internal/domain"

// Common request/response structures. Task submission bodies are not
// modeled here: they are the tagged parameter union, decoded by
// domain.UnmarshalParams.

// CreateUserRequest defines the payload for the user registration
// endpoint. The username comes from the URL path.
type CreateUserRequest struct {
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// TokenRequest defines the payload for the login endpoint. An empty body
// requests an anonymous public-access token.
type TokenRequest struct {
	Username string `json:"username" validate:"omitempty,min=1,max=64"`
	Password string `json:"password" validate:"omitempty,min=1,max=72"`
}

// TokenResponse defines the successful login response.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
}

// TaskCreatedResponse acknowledges an accepted task submission.
type TaskCreatedResponse struct {
	TaskID domain.TaskID `json:"task_id"`
}

// BlobCreatedResponse carries the locator of an uploaded blob.
type BlobCreatedResponse struct {
	BlobURL domain.BlobURL `json:"blob_url"`
}
