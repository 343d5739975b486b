package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryRefreshStore keeps refresh tokens in-memory. It is safe for concurrent
// use and primarily intended for development or single-instance deployments.
type MemoryRefreshStore struct {
	mu      sync.RWMutex
	records map[string]RefreshRecord
}

// NewMemoryRefreshStore constructs an in-memory store implementation.
func NewMemoryRefreshStore() *MemoryRefreshStore {
	return &MemoryRefreshStore{records: make(map[string]RefreshRecord)}
}

// Save records the refresh token details keyed by token hash.
func (s *MemoryRefreshStore) Save(ctx context.Context, record RefreshRecord) error {
	s.mu.Lock()
	s.records[record.TokenHash] = record
	s.mu.Unlock()
	return nil
}

// Get retrieves the record for the provided token hash.
func (s *MemoryRefreshStore) Get(ctx context.Context, tokenHash string) (RefreshRecord, bool, error) {
	s.mu.RLock()
	record, ok := s.records[tokenHash]
	s.mu.RUnlock()
	return record, ok, nil
}

// Delete removes the token hash from the store.
func (s *MemoryRefreshStore) Delete(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	delete(s.records, tokenHash)
	s.mu.Unlock()
	return nil
}

// DeleteForUser removes every token belonging to the user.
func (s *MemoryRefreshStore) DeleteForUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	for hash, record := range s.records {
		if record.UserID == userID {
			delete(s.records, hash)
		}
	}
	s.mu.Unlock()
	return nil
}

// PurgeExpired removes any expired tokens from the store.
func (s *MemoryRefreshStore) PurgeExpired(ctx context.Context, now time.Time) error {
	s.mu.Lock()
	for hash, record := range s.records {
		if now.After(record.ExpiresAt) {
			delete(s.records, hash)
		}
	}
	s.mu.Unlock()
	return nil
}

// Ping always reports success for the in-memory store.
func (s *MemoryRefreshStore) Ping(context.Context) error {
	return nil
}
