// Package auth issues and verifies the bearer tokens that tie API
// clients to users and sessions. Passwords are stored as bcrypt hashes
// in the key-value store; tokens are HS256 JWTs. The session id is
// derived deterministically from the token, so every request carrying
// the same token lands in the same event session without any session
// state being stored.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/phrazzld/imagen-api/internal/domain"
	"github.com/phrazzld/imagen-api/internal/store"
)

// CollectionUser is the key-value collection holding bcrypt password
// hashes keyed by username.
const CollectionUser = "user"

// Auth errors.
var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords
	// alike, so responses cannot be used to probe which usernames exist.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserExists is returned when registering an already-taken username.
	ErrUserExists = errors.New("user already exists")

	// ErrInvalidToken is returned for tokens that are malformed, expired,
	// or signed with a different secret.
	ErrInvalidToken = errors.New("invalid token")

	// ErrPublicAccessDisabled is returned when an anonymous token is
	// requested but the deployment requires registered users.
	ErrPublicAccessDisabled = errors.New("public access disabled")
)

// Service implements user registration and token-based authentication.
type Service struct {
	users         store.KeyValueStore
	secret        []byte
	tokenLifetime time.Duration
	allowPublic   bool
	logger        *slog.Logger
}

// NewService creates an auth service. When allowPublic is true, anyone
// can obtain a token for the shared public user without credentials.
func NewService(users store.KeyValueStore, secret []byte, tokenLifetime time.Duration, allowPublic bool, logger *slog.Logger) *Service {
	return &Service{
		users:         users,
		secret:        secret,
		tokenLifetime: tokenLifetime,
		allowPublic:   allowPublic,
		logger:        logger.With("component", "auth_service"),
	}
}

type userClaims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// RegisterUser creates a user with the given password.
func (s *Service) RegisterUser(ctx context.Context, username domain.Username, password string) error {
	exists, err := s.users.Exists(ctx, CollectionUser, string(username))
	if err != nil {
		return fmt.Errorf("checking user %s: %w", username, err)
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrUserExists, username)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	if err := s.users.Store(ctx, CollectionUser, string(username), string(hash)); err != nil {
		return fmt.Errorf("storing user %s: %w", username, err)
	}
	s.logger.Info("user registered", "username", username)
	return nil
}

// IssueToken verifies the credentials and returns a signed bearer token.
func (s *Service) IssueToken(ctx context.Context, username domain.Username, password string) (string, error) {
	hash, found, err := s.users.Retrieve(ctx, CollectionUser, string(username))
	if err != nil {
		return "", fmt.Errorf("retrieving user %s: %w", username, err)
	}
	if !found {
		return "", ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}
	return s.sign(username)
}

// IssuePublicToken returns a token for the shared public user. No
// credentials are required; the deployment must have public access
// enabled.
func (s *Service) IssuePublicToken() (string, error) {
	if !s.allowPublic {
		return "", ErrPublicAccessDisabled
	}
	return s.sign(domain.DefaultUsername)
}

// VerifyToken validates a bearer token and returns the authenticated
// user, with the session id derived from the token itself.
func (s *Service) VerifyToken(tokenString string) (domain.User, error) {
	claims := &userClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.User{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || claims.Username == "" {
		return domain.User{}, ErrInvalidToken
	}
	return domain.User{
		Username:  domain.Username(claims.Username),
		SessionID: s.sessionID(tokenString),
	}, nil
}

func (s *Service) sign(username domain.Username) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, userClaims{
		Username: string(username),
		RegisteredClaims: jwt.RegisteredClaims{
			// Unique per issuance, so two logins by the same user get
			// distinct tokens and therefore distinct sessions.
			ID:        uuid.New().String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenLifetime)),
		},
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}

// sessionID maps a token to its session. HMAC over the token keeps the
// mapping deterministic per token yet unguessable without the secret.
func (s *Service) sessionID(tokenString string) domain.SessionID {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(tokenString))
	return domain.SessionID(hex.EncodeToString(mac.Sum(nil)[:16]))
}
