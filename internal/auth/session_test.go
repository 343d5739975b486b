package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRefreshTokenLifecycle(t *testing.T) {
	ctx := context.Background()
	manager := NewSessionManager(time.Minute)

	token, expiresAt, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if expiresAt.Before(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	userID, err := manager.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("expected user id user-123, got %s", userID)
	}

	if err := manager.Revoke(ctx, token); err != nil {
		t.Fatalf("Revoke returned error: %v", err)
	}
	if _, err := manager.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for revoked token, got %v", err)
	}
}

func TestRefreshTokenExpiration(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshStore()
	current := time.Now()
	manager := NewSessionManager(time.Minute,
		WithStore(store),
		WithSessionClock(func() time.Time { return current }),
	)

	token, _, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := manager.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
	if err := manager.PurgeExpired(ctx); err != nil {
		t.Fatalf("PurgeExpired returned error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, hashToken(token)); ok {
		t.Fatal("expected expired token to be purged")
	}
}

func TestRotateInvalidatesOldToken(t *testing.T) {
	ctx := context.Background()
	manager := NewSessionManager(time.Minute)

	original, _, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	userID, next, _, err := manager.Rotate(ctx, original)
	if err != nil {
		t.Fatalf("Rotate returned error: %v", err)
	}
	if userID != "user-123" {
		t.Fatalf("expected user id user-123, got %s", userID)
	}
	if next == original {
		t.Fatal("expected rotation to issue a different token")
	}

	if _, err := manager.Validate(ctx, original); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected old token to be invalid after rotation, got %v", err)
	}
	if _, err := manager.Validate(ctx, next); err != nil {
		t.Fatalf("expected new token to validate, got %v", err)
	}
}

func TestIssueRequiresUserID(t *testing.T) {
	manager := NewSessionManager(time.Minute)
	if _, _, err := manager.Issue(context.Background(), ""); !errors.Is(err, ErrInvalidUserID) {
		t.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
}

func TestRevokeAllClearsUserTokens(t *testing.T) {
	ctx := context.Background()
	manager := NewSessionManager(time.Minute)

	first, _, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	second, _, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	other, _, err := manager.Issue(ctx, "user-456")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	if err := manager.RevokeAll(ctx, "user-123"); err != nil {
		t.Fatalf("RevokeAll returned error: %v", err)
	}
	for _, token := range []string{first, second} {
		if _, err := manager.Validate(ctx, token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected revoked token to be invalid, got %v", err)
		}
	}
	if _, err := manager.Validate(ctx, other); err != nil {
		t.Fatalf("expected other user's token to survive, got %v", err)
	}
}

func TestTokenPersistsAcrossManagers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshStore()
	first := NewSessionManager(time.Minute, WithStore(store))
	token, _, err := first.Issue(ctx, "persistent-user")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	second := NewSessionManager(time.Minute, WithStore(store))
	userID, err := second.Validate(ctx, token)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if userID != "persistent-user" {
		t.Fatalf("expected user persistent-user, got %s", userID)
	}
}

func TestConcurrentValidationAcrossManagers(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshStore()
	primary := NewSessionManager(time.Minute, WithStore(store))
	token, _, err := primary.Issue(ctx, "user-xyz")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	const workers = 8
	wg := sync.WaitGroup{}
	wg.Add(workers)
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			replica := NewSessionManager(time.Minute, WithStore(store))
			userID, err := replica.Validate(ctx, token)
			if err != nil {
				errs <- err
				return
			}
			if userID != "user-xyz" {
				errs <- fmt.Errorf("unexpected user id %s", userID)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("replica validation error: %v", err)
	}
}

func TestStoreOnlySeesHashedTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryRefreshStore()
	manager := NewSessionManager(time.Minute, WithStore(store))

	token, _, err := manager.Issue(ctx, "user-123")
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, ok, _ := store.Get(ctx, token); ok {
		t.Fatal("store must not hold the plaintext token")
	}
	if _, ok, _ := store.Get(ctx, hashToken(token)); !ok {
		t.Fatal("store should hold the token hash")
	}
}

func TestHashTokenDeterministic(t *testing.T) {
	if hashToken("token-a") != hashToken("token-a") {
		t.Fatal("expected hashing to be deterministic")
	}
	if hashToken("token-a") == hashToken("token-b") {
		t.Fatal("expected distinct tokens to hash differently")
	}
}
