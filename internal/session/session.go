// Package session implements cookie-backed login sessions. A session is an
// opaque token stored server-side (in memory or Redis) that maps to the
// authenticated identity; the WebSocket layer gates connections on it.
package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// CookieName is the session cookie set on login and cleared on logout.
const CookieName = "chat_sid"

// ErrNoSession is returned when a request carries no usable session.
var ErrNoSession = errors.New("session: not logged in")

// User is the identity carried by a session.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// Store persists sessions by token. Implementations must treat a missing
// token as (User{}, false, nil), not as an error.
type Store interface {
	Create(ctx context.Context, token string, user User, ttl time.Duration) error
	Get(ctx context.Context, token string) (User, bool, error)
	Delete(ctx context.Context, token string) error
}

// Manager issues, resolves, and revokes sessions over a Store and owns the
// cookie contract.
type Manager struct {
	store  Store
	ttl    time.Duration
	secure bool
}

// NewManager creates a Manager. The secure flag controls the cookie's Secure
// attribute and should follow the deployment's TLS posture.
func NewManager(store Store, ttl time.Duration, secure bool) *Manager {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Manager{store: store, ttl: ttl, secure: secure}
}

// Issue creates a session for user and sets the session cookie.
func (m *Manager) Issue(ctx context.Context, w http.ResponseWriter, user User) error {
	token := uuid.NewString()
	if err := m.store.Create(ctx, token, user, m.ttl); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
	})
	return nil
}

// Clear revokes the request's session, if any, and expires the cookie.
func (m *Manager) Clear(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var err error
	if cookie, cerr := r.Cookie(CookieName); cerr == nil && cookie.Value != "" {
		err = m.store.Delete(ctx, cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   m.secure,
	})
	return err
}

// UserFromRequest resolves the request's session cookie to an identity.
func (m *Manager) UserFromRequest(r *http.Request) (User, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return User{}, ErrNoSession
	}
	user, ok, err := m.store.Get(r.Context(), cookie.Value)
	if err != nil {
		return User{}, err
	}
	if !ok {
		return User{}, ErrNoSession
	}
	return user, nil
}

type contextKey struct{}

// Middleware resolves the session on every request and, when present,
// attaches the identity to the request context. It never rejects; handlers
// that require a login check FromContext themselves.
func (m *Manager) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, err := m.UserFromRequest(r); err == nil {
			r = r.WithContext(context.WithValue(r.Context(), contextKey{}, user))
		}
		next.ServeHTTP(w, r)
	})
}

// FromContext returns the identity attached by Middleware.
func FromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(contextKey{}).(User)
	return user, ok
}
