package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"solarsync/internal/models"
)

// DefaultAccessTokenTTL is the lifetime of issued access tokens when none is
// configured.
const DefaultAccessTokenTTL = 15 * time.Minute

// ErrInvalidAccessToken is returned when an access token fails signature or
// claim validation.
var ErrInvalidAccessToken = errors.New("invalid access token")

// Claims are the JWT claims embedded in solarsync access tokens.
type Claims struct {
	UserID string   `json:"uid"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HMAC-signed access tokens.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

// TokenIssuerOption configures a TokenIssuer.
type TokenIssuerOption func(*TokenIssuer)

// WithAccessTokenTTL overrides the access token lifetime.
func WithAccessTokenTTL(ttl time.Duration) TokenIssuerOption {
	return func(issuer *TokenIssuer) {
		if ttl > 0 {
			issuer.ttl = ttl
		}
	}
}

// WithIssuerClock overrides the time source, primarily for tests.
func WithIssuerClock(now func() time.Time) TokenIssuerOption {
	return func(issuer *TokenIssuer) {
		if now != nil {
			issuer.now = now
		}
	}
}

// NewTokenIssuer constructs a TokenIssuer signing with the provided secret.
func NewTokenIssuer(secret []byte, issuerName string, opts ...TokenIssuerOption) (*TokenIssuer, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret required")
	}
	issuer := &TokenIssuer{
		secret: secret,
		issuer: issuerName,
		ttl:    DefaultAccessTokenTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(issuer)
		}
	}
	return issuer, nil
}

// TTL reports the configured access token lifetime.
func (t *TokenIssuer) TTL() time.Duration {
	return t.ttl
}

// Issue signs an access token for the user.
func (t *TokenIssuer) Issue(user models.User) (string, time.Time, error) {
	if user.ID == "" {
		return "", time.Time{}, ErrInvalidUserID
	}
	now := t.now()
	expiresAt := now.Add(t.ttl)
	claims := Claims{
		UserID: user.ID,
		Roles:  append([]string(nil), user.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return signed, expiresAt, nil
}

// Parse verifies the token signature and claims and returns the embedded
// claims when valid.
func (t *TokenIssuer) Parse(tokenString string) (Claims, error) {
	if tokenString == "" {
		return Claims{}, ErrInvalidAccessToken
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(t.issuer),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return Claims{}, ErrInvalidAccessToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return Claims{}, ErrInvalidAccessToken
	}
	return *claims, nil
}
