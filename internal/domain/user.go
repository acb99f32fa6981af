package domain

// Username identifies a registered principal.
type Username string

// DefaultUsername is the shared principal used for public (tokenless) access
// when the deployment enables it.
const DefaultUsername Username = "all"

// SessionID is an opaque fan-out key derived deterministically from a
// validated credential. It groups all live subscribers belonging to one
// authenticated connection context and is never stored as an entity.
type SessionID string

// User is the requesting principal attached to a task at submission time.
// The submitting user owns the task and its resulting blob for
// authorization purposes.
type User struct {
	Username  Username  `json:"username"`
	SessionID SessionID `json:"session_id"`
}
