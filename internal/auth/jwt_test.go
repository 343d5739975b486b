package auth

import (
	"errors"
	"testing"
	"time"

	"solarsync/internal/models"
)

func newTestIssuer(t *testing.T, opts ...TokenIssuerOption) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer([]byte("test-secret"), "solarsync", opts...)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	return issuer
}

func TestIssueAndParseAccessToken(t *testing.T) {
	issuer := newTestIssuer(t)
	user := models.User{ID: "user-123", Roles: []string{"admin", "viewer"}}

	token, expiresAt, err := issuer.Issue(user)
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}
	if !expiresAt.After(time.Now()) {
		t.Fatal("expected expiry in the future")
	}

	claims, err := issuer.Parse(token)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if claims.UserID != "user-123" {
		t.Fatalf("expected user id user-123, got %s", claims.UserID)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "admin" {
		t.Fatalf("unexpected roles: %v", claims.Roles)
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	current := time.Now()
	issuer := newTestIssuer(t,
		WithAccessTokenTTL(time.Minute),
		WithIssuerClock(func() time.Time { return current }),
	)

	token, _, err := issuer.Issue(models.User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}

	current = current.Add(2 * time.Minute)
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken for expired token, got %v", err)
	}
}

func TestParseRejectsForeignSignature(t *testing.T) {
	issuer := newTestIssuer(t)
	other, err := NewTokenIssuer([]byte("other-secret"), "solarsync")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, err := other.Issue(models.User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken for foreign signature, got %v", err)
	}
}

func TestParseRejectsWrongIssuer(t *testing.T) {
	issuer := newTestIssuer(t)
	foreign, err := NewTokenIssuer([]byte("test-secret"), "someone-else")
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}

	token, _, err := foreign.Issue(models.User{ID: "user-123"})
	if err != nil {
		t.Fatalf("Issue returned error: %v", err)
	}
	if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidAccessToken) {
		t.Fatalf("expected ErrInvalidAccessToken for wrong issuer, got %v", err)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	issuer := newTestIssuer(t)
	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		if _, err := issuer.Parse(token); !errors.Is(err, ErrInvalidAccessToken) {
			t.Fatalf("expected ErrInvalidAccessToken for %q, got %v", token, err)
		}
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer(nil, "solarsync"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
