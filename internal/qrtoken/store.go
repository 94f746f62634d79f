package qrtoken

import (
	"context"
	"sync"
	"time"
)

// Store holds the active-token set. Implementations must be safe for
// concurrent validate reads and issue/rotate/deactivate writes.
type Store interface {
	Put(ctx context.Context, token CheckInToken) error
	Get(ctx context.Context, tokenID string) (CheckInToken, bool, error)
	Delete(ctx context.Context, tokenID string) (bool, error)
	ActiveForSession(ctx context.Context, sessionID string, now time.Time) (CheckInToken, bool, error)
	Sweep(ctx context.Context, now time.Time) (int, error)
}

// MemoryStore keeps active tokens in a process-local map.
type MemoryStore struct {
	mu     sync.RWMutex
	tokens map[string]CheckInToken
}

// NewMemoryStore creates an empty in-memory active-token set.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tokens: make(map[string]CheckInToken)}
}

// Put adds or replaces a token keyed by its ID.
func (s *MemoryStore) Put(_ context.Context, token CheckInToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[token.ID] = token
	return nil
}

// Get returns a token by ID if present.
func (s *MemoryStore) Get(_ context.Context, tokenID string) (CheckInToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[tokenID]
	return t, ok, nil
}

// Delete removes a token and reports whether it was present.
func (s *MemoryStore) Delete(_ context.Context, tokenID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tokens[tokenID]
	delete(s.tokens, tokenID)
	return ok, nil
}

// ActiveForSession returns the newest unexpired token for a session.
func (s *MemoryStore) ActiveForSession(_ context.Context, sessionID string, now time.Time) (CheckInToken, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var newest CheckInToken
	var found bool
	for _, t := range s.tokens {
		if t.SessionID != sessionID || t.Expired(now) {
			continue
		}
		if !found || t.IssuedAt.After(newest.IssuedAt) {
			newest = t
			found = true
		}
	}
	return newest, found, nil
}

// Sweep evicts every expired token and returns how many were removed.
func (s *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, id)
			removed++
		}
	}
	return removed, nil
}
