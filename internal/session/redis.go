package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "session:"

// RedisStore keeps sessions in Redis so they survive restarts and are shared
// across replicas. Expiry is delegated to Redis key TTLs.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore over an existing client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Create stores a session under token with the given TTL.
func (s *RedisStore) Create(ctx context.Context, token string, user User, ttl time.Duration) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("session marshal error: %w", err)
	}
	if err := s.client.Set(ctx, redisKeyPrefix+token, data, ttl).Err(); err != nil {
		return fmt.Errorf("session set error: %w", err)
	}
	return nil
}

// Get returns the session for token, if present.
func (s *RedisStore) Get(ctx context.Context, token string) (User, bool, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return User{}, false, nil
		}
		return User{}, false, fmt.Errorf("session get error: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return User{}, false, fmt.Errorf("session unmarshal error: %w", err)
	}
	return user, true, nil
}

// Delete removes the session for token.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("session delete error: %w", err)
	}
	return nil
}
