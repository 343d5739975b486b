package sunsynk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/text/language"

	"solarsync/internal/observability/metrics"
)

const (
	DefaultBaseURL = "https://api.sunsynk.net/api/v1"
	DefaultAuthURL = "https://api.sunsynk.net/oauth/token"

	DefaultClientID = "csp-web"
	DefaultSource   = "sunsynk"

	DefaultTimeout        = 15 * time.Second
	DefaultAuthRetries    = 5
	DefaultRequestRetries = 3
	DefaultBackoffFactor  = 500 * time.Millisecond
	DefaultExpirySkew     = 10 * time.Second
)

// Credentials identify the account used for the password grant.
type Credentials struct {
	Username string
	Password string
	ClientID string
	Source   string
}

// Config controls client construction. Zero values fall back to the defaults
// above.
type Config struct {
	Credentials Credentials

	BaseURL string
	AuthURL string

	HTTPClient *http.Client
	Timeout    time.Duration

	// AuthRetries caps password-grant attempts during construction. Values
	// <= 0 take DefaultAuthRetries.
	AuthRetries int

	// RequestRetries is the number of extra attempts after a failed API
	// call. Zero takes DefaultRequestRetries; pass a negative value to
	// disable retries so every call gets exactly one attempt.
	RequestRetries int

	BackoffFactor time.Duration
	ExpirySkew    time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

type tokenState struct {
	accessToken  string
	refreshToken string
	expiresAt    time.Time
}

// Client talks to a Sunsynk-compatible monitoring API. It authenticates once
// on construction and transparently refreshes the access token before expiry.
// Safe for concurrent use.
type Client struct {
	creds   Credentials
	baseURL string
	authURL string

	httpClient *http.Client
	timeout    time.Duration

	authRetries    int
	requestRetries int
	backoff        time.Duration
	skew           time.Duration

	logger  *slog.Logger
	metrics *metrics.Recorder

	now   func() time.Time
	sleep func(context.Context, time.Duration) error

	mu      sync.RWMutex
	token   tokenState
	refresh singleflight.Group
}

// New constructs a Client and performs the initial password-grant
// authentication synchronously. When every attempt fails the returned error is
// an *AuthError and no client is handed out.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.Credentials.Username == "" || cfg.Credentials.Password == "" {
		return nil, fmt.Errorf("sunsynk: username and password are required")
	}

	c := &Client{
		creds:          cfg.Credentials,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		authURL:        cfg.AuthURL,
		httpClient:     cfg.HTTPClient,
		timeout:        cfg.Timeout,
		authRetries:    cfg.AuthRetries,
		requestRetries: cfg.RequestRetries,
		backoff:        cfg.BackoffFactor,
		skew:           cfg.ExpirySkew,
		logger:         cfg.Logger,
		metrics:        cfg.Metrics,
		now:            time.Now,
		sleep:          sleepContext,
	}
	if c.baseURL == "" {
		c.baseURL = DefaultBaseURL
	}
	if c.authURL == "" {
		c.authURL = DefaultAuthURL
	}
	if c.creds.ClientID == "" {
		c.creds.ClientID = DefaultClientID
	}
	if c.creds.Source == "" {
		c.creds.Source = DefaultSource
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if c.authRetries <= 0 {
		c.authRetries = DefaultAuthRetries
	}
	if c.requestRetries < 0 {
		c.requestRetries = 0
	} else if c.requestRetries == 0 {
		c.requestRetries = DefaultRequestRetries
	}
	if c.backoff <= 0 {
		c.backoff = DefaultBackoffFactor
	}
	if c.skew <= 0 {
		c.skew = DefaultExpirySkew
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.Default()
	}

	if err := c.authenticateWithRetry(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Client) authenticateWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= c.authRetries; attempt++ {
		state, err := c.passwordGrant(ctx)
		if err == nil {
			c.metrics.ObserveTokenGrant("password", true)
			c.setToken(state)
			c.logger.Info("authentication succeeded", "attempt", attempt)
			return nil
		}
		c.metrics.ObserveTokenGrant("password", false)
		lastErr = err
		c.logger.Warn("authentication attempt failed",
			"attempt", attempt,
			"max_attempts", c.authRetries,
			"error", err,
		)
		if attempt < c.authRetries {
			if err := c.sleep(ctx, c.backoff*(1<<(attempt-1))); err != nil {
				return &AuthError{Grant: "password", Attempts: attempt, Err: err}
			}
		}
	}
	return &AuthError{Grant: "password", Attempts: c.authRetries, Err: lastErr}
}

func (c *Client) passwordGrant(ctx context.Context) (tokenState, error) {
	return c.grant(ctx, map[string]string{
		"grant_type": "password",
		"username":   c.creds.Username,
		"password":   c.creds.Password,
		"client_id":  c.creds.ClientID,
		"source":     c.creds.Source,
		"areaCode":   c.creds.Source,
	})
}

func (c *Client) refreshGrant(ctx context.Context, refreshToken string) (tokenState, error) {
	return c.grant(ctx, map[string]string{
		"grant_type":    "refresh_token",
		"refresh_token": refreshToken,
		"client_id":     c.creds.ClientID,
		"source":        c.creds.Source,
	})
}

func (c *Client) grant(ctx context.Context, payload map[string]string) (tokenState, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return tokenState{}, fmt.Errorf("encode grant payload: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.authURL, bytes.NewReader(body))
	if err != nil {
		return tokenState{}, fmt.Errorf("build grant request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return tokenState{}, fmt.Errorf("token endpoint: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return tokenState{}, fmt.Errorf("read token response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return tokenState{}, fmt.Errorf("token endpoint returned %s", resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return tokenState{}, fmt.Errorf("decode token response: %w", err)
	}
	if env.Code != 0 {
		return tokenState{}, fmt.Errorf("token endpoint rejected grant: code %d: %s", env.Code, env.Msg)
	}

	var payload2 tokenPayload
	if err := json.Unmarshal(env.Data, &payload2); err != nil {
		return tokenState{}, fmt.Errorf("decode token payload: %w", err)
	}
	if payload2.AccessToken == "" {
		return tokenState{}, fmt.Errorf("token endpoint returned no access token")
	}

	return tokenState{
		accessToken:  payload2.AccessToken,
		refreshToken: payload2.RefreshToken,
		expiresAt:    c.now().Add(time.Duration(payload2.ExpiresIn)*time.Second - c.skew),
	}, nil
}

func (c *Client) setToken(state tokenState) {
	c.mu.Lock()
	c.token = state
	c.mu.Unlock()
}

// freshToken returns the cached access token when it has not yet reached the
// skewed expiry.
func (c *Client) freshToken() (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token.accessToken == "" {
		return "", false
	}
	if !c.now().Before(c.token.expiresAt) {
		return "", false
	}
	return c.token.accessToken, true
}

// ensureFreshToken hands back a valid access token, refreshing it at most once
// per expiry window regardless of how many callers arrive concurrently.
func (c *Client) ensureFreshToken(ctx context.Context) (string, error) {
	if token, ok := c.freshToken(); ok {
		return token, nil
	}

	value, err, _ := c.refresh.Do("token", func() (any, error) {
		// A waiter that queued behind the winning call finds the token
		// already replaced.
		if token, ok := c.freshToken(); ok {
			return token, nil
		}

		c.mu.RLock()
		refreshToken := c.token.refreshToken
		c.mu.RUnlock()

		c.logger.Info("access token expired, refreshing")
		state, err := c.refreshGrant(ctx, refreshToken)
		if err != nil {
			c.metrics.ObserveTokenGrant("refresh_token", false)
			return nil, &AuthError{Grant: "refresh_token", Attempts: 1, Err: err}
		}
		c.metrics.ObserveTokenGrant("refresh_token", true)
		c.setToken(state)
		c.logger.Info("token refreshed", "expires_at", state.expiresAt)
		return state.accessToken, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func retryableStatus(status int) bool {
	switch status {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// request performs an authenticated API call and returns the raw data payload
// of the response envelope. Network errors and retryable status codes are
// retried with exponential backoff; envelope errors are returned immediately.
func (c *Client) request(ctx context.Context, method, path string, query url.Values) (json.RawMessage, error) {
	token, err := c.ensureFreshToken(ctx)
	if err != nil {
		return nil, err
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	c.metrics.ObserveUpstreamAttempt(operationName(method, path))

	attempts := c.requestRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			c.metrics.ObserveUpstreamRetry(operationName(method, path))
			c.logger.Debug("retrying request",
				"method", method,
				"path", path,
				"attempt", attempt+1,
				"error", lastErr,
			)
			if err := c.sleep(ctx, c.backoff*(1<<(attempt-1))); err != nil {
				return nil, &TransportError{Method: method, Path: path, Attempts: attempt, Err: err}
			}
		}

		data, retry, err := c.doOnce(ctx, method, endpoint, path, token)
		if err == nil {
			return data, nil
		}
		if !retry {
			c.metrics.ObserveUpstreamFailure(operationName(method, path))
			return nil, err
		}
		lastErr = err
	}

	c.metrics.ObserveUpstreamFailure(operationName(method, path))
	return nil, &TransportError{Method: method, Path: path, Attempts: attempts, Err: lastErr}
}

// doOnce performs a single HTTP exchange. The second return value reports
// whether the failure is eligible for a retry.
func (c *Client) doOnce(ctx context.Context, method, endpoint, path, token string) (json.RawMessage, bool, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, nil)
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read response: %w", err)
	}

	if retryableStatus(resp.StatusCode) {
		return nil, true, fmt.Errorf("upstream returned %s", resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, fmt.Errorf("upstream returned %s", resp.Status)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, false, fmt.Errorf("decode response: %w", err)
	}
	if env.Code != 0 {
		return nil, false, &APIError{Path: path, Code: env.Code, Msg: env.Msg}
	}
	return env.Data, false, nil
}

// operationName folds identifier segments so metric labels stay low
// cardinality.
func operationName(method, path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	kept := make([]string, 0, len(parts)+1)
	kept = append(kept, strings.ToLower(method))
	for _, part := range parts {
		if part == "" {
			continue
		}
		if strings.ContainsAny(part, "0123456789") {
			part = "id"
		}
		kept = append(kept, strings.ToLower(part))
	}
	return strings.Join(kept, "_")
}

// normalizeLang validates a BCP 47 language tag and reduces it to the bare
// base language the upstream API expects, falling back to English.
func normalizeLang(lan string) string {
	if strings.TrimSpace(lan) == "" {
		return "en"
	}
	tag, err := language.Parse(lan)
	if err != nil {
		return "en"
	}
	base, _ := tag.Base()
	return base.String()
}

func decodeInto[T any](data json.RawMessage, out *T) error {
	if len(data) == 0 || string(data) == "null" {
		return nil
	}
	return json.Unmarshal(data, out)
}
