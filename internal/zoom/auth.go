// Package zoom provides Zoom API authentication, listing and pagination
package zoom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"

	"github.com/curtbushko/zoom-mirror/internal/config"
)

// AccessToken represents an OAuth access token with metadata
type AccessToken struct {
	AccessToken string
	TokenType   string
	Scopes      []string
	IssuedAt    time.Time
	ExpiresAt   time.Time
}

// IsExpiredAt returns true if the token is expired at now or will expire
// within buffer
func (t *AccessToken) IsExpiredAt(now time.Time, buffer time.Duration) bool {
	return !now.Add(buffer).Before(t.ExpiresAt)
}

// AuthorizationHeader returns the value for the Authorization header
func (t *AccessToken) AuthorizationHeader() string {
	tokenType := t.TokenType
	if tokenType == "" || strings.EqualFold(tokenType, "bearer") {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// tokenResponse represents the response from the OAuth token endpoint
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

// Authenticator hands out a currently valid access token
type Authenticator interface {
	GetAccessToken(ctx context.Context) (*AccessToken, error)
}

// ServerToServerAuth implements Server-to-Server OAuth authentication for Zoom.
// It owns a single cached token slot guarded by a mutex, so it is safe to
// share across goroutines.
type ServerToServerAuth struct {
	config config.ZoomConfig
	client *http.Client
	margin time.Duration
	now    func() time.Time

	mu          sync.Mutex
	cachedToken *AccessToken
}

// AuthOption configures a ServerToServerAuth
type AuthOption func(*ServerToServerAuth)

// WithAuthHTTPClient replaces the HTTP client used for the token exchange
func WithAuthHTTPClient(client *http.Client) AuthOption {
	return func(s *ServerToServerAuth) {
		s.client = client
	}
}

// WithAuthClock replaces the clock used for expiry checks
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *ServerToServerAuth) {
		s.now = now
	}
}

// NewServerToServerAuth creates a new Server-to-Server OAuth authenticator
func NewServerToServerAuth(cfg config.ZoomConfig, opts ...AuthOption) *ServerToServerAuth {
	if cfg.TokenURL == "" {
		cfg.TokenURL = "https://zoom.us/oauth/token"
	}
	auth := &ServerToServerAuth{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
		margin: cfg.TokenRefreshMargin(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(auth)
	}
	return auth
}

// GetAccessToken returns the cached token, refreshing it first when it is
// absent or inside the refresh margin
func (s *ServerToServerAuth) GetAccessToken(ctx context.Context) (*AccessToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cachedToken != nil && !s.cachedToken.IsExpiredAt(now, s.effectiveMargin(s.cachedToken)) {
		return s.cachedToken, nil
	}

	token, err := s.exchange(ctx, now)
	if err != nil {
		s.cachedToken = nil
		return nil, err
	}

	s.cachedToken = token
	return token, nil
}

// Invalidate drops the cached token so the next call performs an exchange
func (s *ServerToServerAuth) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cachedToken = nil
}

// effectiveMargin caps the margin at half the token lifetime so short-lived
// tokens are still reused
func (s *ServerToServerAuth) effectiveMargin(token *AccessToken) time.Duration {
	lifetime := token.ExpiresAt.Sub(token.IssuedAt)
	if s.margin > lifetime/2 {
		return lifetime / 2
	}
	return s.margin
}

// exchange performs the account_credentials grant
func (s *ServerToServerAuth) exchange(ctx context.Context, now time.Time) (*AccessToken, error) {
	data := url.Values{}
	data.Set("grant_type", "account_credentials")
	data.Set("account_id", s.config.AccountID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.TokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, &AuthError{
			Type:   "request_creation",
			Reason: "failed to create OAuth request",
			Err:    err,
		}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.config.ClientID, s.config.ClientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &AuthError{
			Type:   "request_failed",
			Reason: "failed to get access token",
			Err:    err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{
			Type:   "response_read",
			Reason: "failed to read token response",
			Err:    err,
		}
	}

	var parsed tokenResponse
	decodeErr := json.Unmarshal(body, &parsed)

	if resp.StatusCode != http.StatusOK {
		reason := parsed.Reason
		if reason == "" {
			reason = strings.TrimSpace(string(body))
		}
		errType := "http_error"
		if parsed.Error != "" {
			errType = parsed.Error
		}
		return nil, &AuthError{
			Type:   errType,
			Reason: fmt.Sprintf("HTTP %d: %s", resp.StatusCode, reason),
		}
	}

	if decodeErr != nil {
		return nil, &AuthError{
			Type:   "response_parsing",
			Reason: "failed to parse token response",
			Err:    decodeErr,
		}
	}

	if parsed.Error != "" {
		return nil, &AuthError{
			Type:   parsed.Error,
			Reason: parsed.Reason,
		}
	}

	if parsed.AccessToken == "" {
		return nil, &AuthError{
			Type:   "response_parsing",
			Reason: "token response has no access_token",
		}
	}

	expiresAt, err := tokenExpiry(parsed, now)
	if err != nil {
		return nil, &AuthError{
			Type:   "missing_expiry",
			Reason: "token response has no usable expiry",
			Err:    err,
		}
	}

	token := &AccessToken{
		AccessToken: parsed.AccessToken,
		TokenType:   parsed.TokenType,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
	}
	if parsed.Scope != "" {
		token.Scopes = strings.Fields(parsed.Scope)
	}
	return token, nil
}

// tokenExpiry prefers expires_in and falls back to the exp claim of the
// access token itself, which Zoom issues as a JWT
func tokenExpiry(resp tokenResponse, now time.Time) (time.Time, error) {
	if resp.ExpiresIn > 0 {
		return now.Add(time.Duration(resp.ExpiresIn) * time.Second), nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(resp.AccessToken, claims); err != nil {
		return time.Time{}, fmt.Errorf("expires_in missing and access token is not a JWT: %w", err)
	}
	exp, err := claims.GetExpirationTime()
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid exp claim: %w", err)
	}
	if exp == nil {
		return time.Time{}, fmt.Errorf("expires_in missing and access token has no exp claim")
	}
	return exp.Time, nil
}
