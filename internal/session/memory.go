package session

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	user      User
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. Suitable for single-node
// deployments and tests; sessions do not survive restarts.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]memoryEntry
	done     chan struct{}
	stopOnce sync.Once
}

// NewMemoryStore creates a MemoryStore and starts a janitor goroutine that
// sweeps expired sessions at the given interval.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	if sweepInterval <= 0 {
		sweepInterval = 15 * time.Minute
	}
	s := &MemoryStore{
		sessions: make(map[string]memoryEntry),
		done:     make(chan struct{}),
	}
	go s.janitor(sweepInterval)
	return s
}

// Create stores a session under token.
func (s *MemoryStore) Create(_ context.Context, token string, user User, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[token] = memoryEntry{user: user, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Get returns the session for token, if present and not expired.
func (s *MemoryStore) Get(_ context.Context, token string) (User, bool, error) {
	s.mu.RLock()
	entry, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return User{}, false, nil
	}
	return entry.user, true, nil
}

// Delete removes the session for token. Deleting an unknown token is a no-op.
func (s *MemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

// Stop terminates the janitor goroutine.
func (s *MemoryStore) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

func (s *MemoryStore) janitor(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			now := time.Now()
			s.mu.Lock()
			for token, entry := range s.sessions {
				if now.After(entry.expiresAt) {
					delete(s.sessions, token)
				}
			}
			s.mu.Unlock()
		}
	}
}
