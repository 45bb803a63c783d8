// Package web exposes the HTTP surface of the relay service: account
// signup/login, session introspection, the session-gated WebSocket upgrade,
// health, and metrics.
package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/relaychat/relay/internal/auth"
	"github.com/relaychat/relay/internal/chat"
	"github.com/relaychat/relay/internal/config"
	"github.com/relaychat/relay/internal/session"
	"github.com/relaychat/relay/internal/store"
)

// Handlers bundles the collaborators behind the HTTP routes.
type Handlers struct {
	accounts *auth.Service
	sessions *session.Manager
	hub      *chat.Hub
	store    *store.Store
	upgrader websocket.Upgrader
}

// NewHandlers creates the HTTP handler set.
func NewHandlers(accounts *auth.Service, sessions *session.Manager, hub *chat.Hub, st *store.Store, cfg *config.Config) *Handlers {
	origins := newOriginChecker(cfg.AllowedOrigins)
	return &Handlers{
		accounts: accounts,
		sessions: sessions,
		hub:      hub,
		store:    st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.check,
		},
	}
}

type apiResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type credentialsRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

// isUserError reports whether a registration failure should be surfaced
// verbatim to the client.
func isUserError(err error) bool {
	return errors.Is(err, auth.ErrUsernameTaken) ||
		errors.Is(err, auth.ErrMissingFields) ||
		errors.Is(err, auth.ErrInvalidEmail) ||
		errors.Is(err, auth.ErrWeakPassword) ||
		errors.Is(err, auth.ErrPasswordTooLong)
}

// Signup registers an account and logs it in immediately.
func (h *Handlers) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "Invalid request body."})
		return
	}

	user, err := h.accounts.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if isUserError(err) {
			writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: err.Error()})
			return
		}
		log.Printf("Signup error: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "Registration failed. Please try again."})
		return
	}

	if err := h.sessions.Issue(r.Context(), w, session.User{ID: user.ID, Username: user.Username}); err != nil {
		log.Printf("Error creating session after signup: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "Registration failed. Please try again."})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "User registered and logged in successfully",
		Data:    map[string]any{"username": user.Username, "userId": user.ID},
	})
}

// Login verifies credentials and establishes a session.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, apiResponse{Success: false, Message: "Invalid request body."})
		return
	}

	user, err := h.accounts.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			writeJSON(w, http.StatusUnauthorized, apiResponse{Success: false, Message: err.Error()})
			return
		}
		log.Printf("Login error: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "An error occurred during login. Please try again."})
		return
	}

	if err := h.sessions.Issue(r.Context(), w, session.User{ID: user.ID, Username: user.Username}); err != nil {
		log.Printf("Error creating session after login: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "An error occurred during login. Please try again."})
		return
	}

	writeJSON(w, http.StatusOK, apiResponse{
		Success: true,
		Message: "Login successful",
		Data:    map[string]any{"username": user.Username, "userId": user.ID},
	})
}

// Logout destroys the current session.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Clear(r.Context(), w, r); err != nil {
		log.Printf("Error destroying session: %v", err)
		writeJSON(w, http.StatusInternalServerError, apiResponse{Success: false, Message: "Could not log out"})
		return
	}
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: "Logged out successfully"})
}

// Session reports the login status of the current request.
func (h *Handlers) Session(w http.ResponseWriter, r *http.Request) {
	if user, ok := session.FromContext(r.Context()); ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"loggedIn": true,
			"username": user.Username,
			"userId":   user.ID,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"loggedIn": false})
}

// Health verifies the database connection.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		log.Printf("Health check failed: %v", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte("ok")); err != nil {
		log.Printf("Error writing health response: %v", err)
	}
}

// WebSocket authenticates the request against the session store and, only on
// success, upgrades it and registers the connection with the hub. An
// unauthenticated request is refused before any upgrade; no socket events
// are ever exchanged with it.
func (h *Handlers) WebSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	user, ok := session.FromContext(r.Context())
	if !ok {
		log.Printf("Unauthenticated socket attempted connection from %s", r.RemoteAddr)
		http.Error(w, "Authentication required.", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := chat.NewClient(conn, h.hub, chat.Identity{ID: user.ID, Username: user.Username}, r.RemoteAddr)

	// The hub inserts the client into the registry and launches the pumps.
	h.hub.Register(client)
}
