package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"
)

// ErrInvalidUserID is returned when attempting to create a session without a
// user identifier.
var ErrInvalidUserID = errors.New("userID is required")

// RefreshStore defines the persistence contract for refresh tokens. Stores
// only ever see the SHA-256 hash of a token, never the token itself.
type RefreshStore interface {
	Save(ctx context.Context, record RefreshRecord) error
	Get(ctx context.Context, tokenHash string) (RefreshRecord, bool, error)
	Delete(ctx context.Context, tokenHash string) error
	DeleteForUser(ctx context.Context, userID string) error
	PurgeExpired(ctx context.Context, now time.Time) error
}

// RefreshRecord captures a refresh token row retrieved from the backing store.
type RefreshRecord struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionOption configures a SessionManager instance.
type SessionOption func(*SessionManager)

// WithStore injects a custom RefreshStore implementation.
func WithStore(store RefreshStore) SessionOption {
	return func(m *SessionManager) {
		if store != nil {
			m.store = store
		}
	}
}

// WithTokenLength sets the random byte length used for newly created tokens.
func WithTokenLength(length int) SessionOption {
	return func(m *SessionManager) {
		if length > 0 {
			m.tokenLength = length
		}
	}
}

// WithSessionClock overrides the time source, primarily for tests.
func WithSessionClock(now func() time.Time) SessionOption {
	return func(m *SessionManager) {
		if now != nil {
			m.now = now
		}
	}
}

// SessionManager issues and rotates refresh tokens against a backing store.
type SessionManager struct {
	store        RefreshStore
	ttl          time.Duration
	tokenLength  int
	now          func() time.Time
	tokenFactory func(int) (string, error)
}

// NewSessionManager constructs a SessionManager with the provided refresh TTL
// and options. The manager defaults to a 7-day TTL and an in-memory store for
// local development when no store is supplied.
func NewSessionManager(ttl time.Duration, opts ...SessionOption) *SessionManager {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	manager := &SessionManager{
		ttl:          ttl,
		tokenLength:  32,
		now:          time.Now,
		tokenFactory: generateToken,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(manager)
		}
	}
	if manager.store == nil {
		manager.store = NewMemoryRefreshStore()
	}
	return manager
}

// Issue creates a new refresh token for the provided user identifier. The
// plaintext token is returned to the caller; only its hash is persisted.
func (m *SessionManager) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	token, err := m.tokenFactory(m.tokenLength)
	if err != nil {
		return "", time.Time{}, err
	}
	now := m.now()
	record := RefreshRecord{
		TokenHash: hashToken(token),
		UserID:    userID,
		ExpiresAt: now.Add(m.ttl).UTC(),
		CreatedAt: now.UTC(),
	}
	if err := m.store.Save(ctx, record); err != nil {
		return "", time.Time{}, err
	}
	return token, record.ExpiresAt, nil
}

// Rotate validates the presented refresh token and, when valid, replaces it
// with a fresh one. The old token is deleted before the new one is issued so
// a replayed token fails validation.
func (m *SessionManager) Rotate(ctx context.Context, token string) (string, string, time.Time, error) {
	userID, err := m.Validate(ctx, token)
	if err != nil {
		return "", "", time.Time{}, err
	}
	if err := m.store.Delete(ctx, hashToken(token)); err != nil {
		return "", "", time.Time{}, err
	}
	next, expiresAt, err := m.Issue(ctx, userID)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return userID, next, expiresAt, nil
}

// Validate checks the backing store for the presented token and returns the
// associated user when the token exists and has not expired.
func (m *SessionManager) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", ErrInvalidToken
	}
	record, ok, err := m.store.Get(ctx, hashToken(token))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidToken
	}
	if m.now().After(record.ExpiresAt) {
		_ = m.store.Delete(ctx, record.TokenHash)
		return "", ErrInvalidToken
	}
	return record.UserID, nil
}

// Revoke deletes the presented refresh token from the backing store.
func (m *SessionManager) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return m.store.Delete(ctx, hashToken(token))
}

// RevokeAll deletes every refresh token belonging to the user, for password
// changes and account removal.
func (m *SessionManager) RevokeAll(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return m.store.DeleteForUser(ctx, userID)
}

// PurgeExpired removes any expired refresh tokens from the backing store.
func (m *SessionManager) PurgeExpired(ctx context.Context) error {
	return m.store.PurgeExpired(ctx, m.now())
}

// Ping verifies the underlying store is reachable when it exposes a ping
// method.
func (m *SessionManager) Ping(ctx context.Context) error {
	if m == nil || m.store == nil {
		return nil
	}
	if pinger, ok := m.store.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	return nil
}

// ErrInvalidToken is returned when a refresh token is missing, unknown, or
// expired.
var ErrInvalidToken = errors.New("invalid or expired refresh token")

func generateToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return hex.EncodeToString(bytes), nil
}

func hashToken(token string) string {
	digest := sha256.Sum256([]byte(token))
	return hex.EncodeToString(digest[:])
}
