package qrtoken

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// expiryGrace keeps expired tokens around briefly so validation can report
// "expired" instead of "unknown" right after the TTL lapses.
const expiryGrace = 5 * time.Minute

// RedisStore keeps the active-token set in Redis so multiple API instances
// can validate tokens issued by any of them.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "qr"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) tokenKey(tokenID string) string {
	return s.prefix + ":token:" + tokenID
}

func (s *RedisStore) sessionKey(sessionID string) string {
	return s.prefix + ":session:" + sessionID
}

// Put stores the token JSON and points the session index at it.
func (s *RedisStore) Put(ctx context.Context, token CheckInToken) error {
	raw, err := json.Marshal(token)
	if err != nil {
		return err
	}
	ttl := time.Until(token.ExpiresAt) + expiryGrace
	if ttl <= 0 {
		ttl = expiryGrace
	}
	if err := s.client.Set(ctx, s.tokenKey(token.ID), raw, ttl).Err(); err != nil {
		return err
	}
	return s.client.Set(ctx, s.sessionKey(token.SessionID), token.ID, ttl).Err()
}

// Get returns a token by ID if Redis still holds it.
func (s *RedisStore) Get(ctx context.Context, tokenID string) (CheckInToken, bool, error) {
	raw, err := s.client.Get(ctx, s.tokenKey(tokenID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CheckInToken{}, false, nil
	}
	if err != nil {
		return CheckInToken{}, false, err
	}
	var t CheckInToken
	if err := json.Unmarshal(raw, &t); err != nil {
		return CheckInToken{}, false, err
	}
	return t, true, nil
}

// Delete removes a token and reports whether it was present.
func (s *RedisStore) Delete(ctx context.Context, tokenID string) (bool, error) {
	removed, err := s.client.Del(ctx, s.tokenKey(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return removed > 0, nil
}

// ActiveForSession returns the most recently issued unexpired token for a
// session via the session index.
func (s *RedisStore) ActiveForSession(ctx context.Context, sessionID string, now time.Time) (CheckInToken, bool, error) {
	tokenID, err := s.client.Get(ctx, s.sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return CheckInToken{}, false, nil
	}
	if err != nil {
		return CheckInToken{}, false, err
	}
	t, ok, err := s.Get(ctx, tokenID)
	if err != nil || !ok {
		return CheckInToken{}, false, err
	}
	if t.Expired(now) {
		return CheckInToken{}, false, nil
	}
	return t, true, nil
}

// Sweep is a no-op: Redis evicts expired keys via their TTL.
func (s *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}
