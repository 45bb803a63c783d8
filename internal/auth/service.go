// Package auth implements account registration and login on top of the
// store, with bcrypt password hashing. Socket authentication itself lives in
// the session package; this package only establishes who a user is.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/relaychat/relay/internal/store"
)

var (
	// ErrInvalidCredentials is returned when login credentials are wrong.
	// It deliberately does not distinguish unknown users from bad passwords.
	ErrInvalidCredentials = errors.New("invalid username or password")
	// ErrUsernameTaken is returned when the username or email is in use.
	ErrUsernameTaken = errors.New("username or email already exists")
	// ErrMissingFields is returned when a required signup field is blank.
	ErrMissingFields = errors.New("username, email, and password are required")
	// ErrInvalidEmail is returned when the email does not parse.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrWeakPassword is returned when the password is too short.
	ErrWeakPassword = errors.New("password must be at least 8 characters")
	// ErrPasswordTooLong is returned when the password exceeds bcrypt's
	// 72-byte limit.
	ErrPasswordTooLong = errors.New("password must be at most 72 characters")
)

// Service handles account registration and login.
type Service struct {
	store  *store.Store
	hasher *PasswordHasher
}

// NewService creates a Service backed by the given store.
func NewService(st *store.Store) *Service {
	return &Service{
		store:  st,
		hasher: NewPasswordHasher(),
	}
}

// Register creates a new account and returns it. The caller is expected to
// establish a session immediately (signup auto-logs-in).
func (s *Service) Register(ctx context.Context, username, email, password string) (store.User, error) {
	username = strings.TrimSpace(username)
	email = strings.TrimSpace(email)

	if username == "" || email == "" || password == "" {
		return store.User{}, ErrMissingFields
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return store.User{}, ErrInvalidEmail
	}
	if len(password) < 8 {
		return store.User{}, ErrWeakPassword
	}
	if len(password) > 72 {
		return store.User{}, ErrPasswordTooLong
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return store.User{}, fmt.Errorf("failed to hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, username, email, hash)
	if err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return store.User{}, ErrUsernameTaken
		}
		return store.User{}, err
	}
	return user, nil
}

// Login verifies the credentials and returns the matching account.
func (s *Service) Login(ctx context.Context, username, password string) (store.User, error) {
	if username == "" || password == "" {
		return store.User{}, ErrInvalidCredentials
	}

	user, err := s.store.UserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return store.User{}, ErrInvalidCredentials
	}
	return user, nil
}
