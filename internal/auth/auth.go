// Package auth handles accounts and login sessions. Sessions are
// opaque bearer tokens; only a SHA-256 hash of the token is stored.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/novanahq/novana/internal/store"
)

// SessionTTL is how long a login session stays valid.
const SessionTTL = 24 * time.Hour

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrSessionExpired     = errors.New("session expired")
)

// Service implements signup, login, and token verification on top of
// the store.
type Service struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates an auth service.
func New(st *store.Store, logger *slog.Logger) *Service {
	return &Service{store: st, logger: logger}
}

// Signup creates an account. Username and email are trimmed and the
// email lowercased before storage.
func (s *Service) Signup(ctx context.Context, username, email, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))

	if username == "" || email == "" {
		return nil, fmt.Errorf("username and email are required")
	}
	if len(password) < 8 {
		return nil, fmt.Errorf("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	id, err := s.store.CreateUser(ctx, username, email, string(hash))
	if err != nil {
		return nil, err
	}

	s.logger.Info("user created", "user_id", id, "username", username)
	return s.store.GetUser(ctx, id)
}

// Login checks credentials against username or email and mints a new
// session token.
func (s *Service) Login(ctx context.Context, login, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByLogin(ctx, strings.TrimSpace(login))
	if errors.Is(err, store.ErrNotFound) {
		// Burn a comparison so missing users cost the same as bad
		// passwords.
		bcrypt.CompareHashAndPassword([]byte("$2a$10$invalidinvalidinvalidinvalidinvalidinvalidinvalidinv"), []byte(password))
		return "", nil, ErrInvalidCredentials
	}
	if err != nil {
		return "", nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrInvalidCredentials
	}

	token, err := newToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now().UTC()
	sess := store.Session{
		ID:        uuid.Must(uuid.NewV7()).String(),
		UserID:    user.ID,
		TokenHash: hashToken(token),
		ExpiresAt: now.Add(SessionTTL),
		CreatedAt: now,
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return "", nil, err
	}

	s.logger.Info("login", "user_id", user.ID)
	return token, user, nil
}

// Verify resolves a bearer token to its user. Expired sessions are
// deleted on sight.
func (s *Service) Verify(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, ErrInvalidCredentials
	}

	hash := hashToken(token)
	sess, err := s.store.GetSessionByTokenHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}

	if time.Now().After(sess.ExpiresAt) {
		_ = s.store.DeleteSession(ctx, hash)
		return nil, ErrSessionExpired
	}

	return s.store.GetUser(ctx, sess.UserID)
}

// Logout invalidates one session token.
func (s *Service) Logout(ctx context.Context, token string) error {
	return s.store.DeleteSession(ctx, hashToken(token))
}

// DeleteAccount removes the user and everything they own after a
// password re-check.
func (s *Service) DeleteAccount(ctx context.Context, userID int64, password string) error {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return ErrInvalidCredentials
	}

	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted", "user_id", userID)
	return nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
