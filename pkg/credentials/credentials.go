// Package credentials manages one OAuth2 bearer credential: it tracks the
// access token expiry and refreshes it against the identity provider
// before API calls start failing.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/telhawk-systems/eventfeed/common/logging"
	"github.com/telhawk-systems/eventfeed/internal/metrics"
	"github.com/telhawk-systems/eventfeed/pkg/sdkerr"
	"github.com/telhawk-systems/eventfeed/pkg/transport"
)

// Identity provider endpoints.
const (
	DefaultTokenURL  = "https://api.paloaltonetworks.com/api/oauth2/RequestToken"
	DefaultRevokeURL = "https://api.paloaltonetworks.com/api/oauth2/RevokeToken"
)

// ExpiryGuard is how long before valid_until a token counts as near expiry.
const ExpiryGuard = 5 * time.Minute

// Options configures New. ClientID and ClientSecret are required, plus
// either RefreshToken (optionally with AccessToken) or Code and RedirectURI.
type Options struct {
	ClientID     string
	ClientSecret string
	AccessToken  string
	RefreshToken string
	Code         string
	RedirectURI  string

	TokenURL  string
	RevokeURL string

	HTTPClient *http.Client
	Retry      transport.Policy
	Logger     *slog.Logger
	// Now overrides the wall clock.
	Now func() time.Time
}

// Credential holds a bearer token and its expiry. Refresh mutates it in
// place. Two schedulers sharing one Credential must serialize their
// refreshes externally: fields are guarded, refresh calls are not merged.
type Credential struct {
	clientID     string
	clientSecret string
	tokenURL     string
	revokeURL    string
	httpClient   *http.Client
	policy       transport.Policy
	logger       *slog.Logger
	now          func() time.Time

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	validUntil   int64
}

// New builds a Credential. With an access and refresh token pair the
// expiry is read from the access token. With only a refresh token an
// immediate refresh is performed. With an authorization code the code is
// exchanged for a token pair.
func New(ctx context.Context, opts Options) (*Credential, error) {
	if opts.ClientID == "" || opts.ClientSecret == "" {
		return nil, sdkerr.Config("credentials.New", "client_id and client_secret are required", nil)
	}
	if opts.RefreshToken == "" && opts.Code == "" {
		return nil, sdkerr.Config("credentials.New", "one of refresh_token or code is required", nil)
	}

	c := &Credential{
		clientID:     opts.ClientID,
		clientSecret: opts.ClientSecret,
		tokenURL:     opts.TokenURL,
		revokeURL:    opts.RevokeURL,
		httpClient:   opts.HTTPClient,
		policy:       opts.Retry,
		logger:       logging.OrDiscard(opts.Logger),
		now:          opts.Now,
	}
	if c.tokenURL == "" {
		c.tokenURL = DefaultTokenURL
	}
	if c.revokeURL == "" {
		c.revokeURL = DefaultRevokeURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{}
	}
	if c.policy.Attempts <= 0 {
		c.policy = transport.DefaultPolicy()
	}
	if c.now == nil {
		c.now = time.Now
	}

	switch {
	case opts.AccessToken != "" && opts.RefreshToken != "":
		exp, err := ExpiryFromJWT(opts.AccessToken)
		if err != nil {
			return nil, err
		}
		c.accessToken = opts.AccessToken
		c.refreshToken = opts.RefreshToken
		c.validUntil = exp
	case opts.RefreshToken != "":
		c.refreshToken = opts.RefreshToken
		if err := c.Refresh(ctx); err != nil {
			return nil, err
		}
	default:
		if opts.RedirectURI == "" {
			return nil, sdkerr.Config("credentials.New", "redirect_uri is required with an authorization code", nil)
		}
		if err := c.exchangeCode(ctx, opts.Code, opts.RedirectURI); err != nil {
			return nil, err
		}
	}

	return c, nil
}

// AccessToken returns the current token value. No I/O is performed.
func (c *Credential) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.accessToken
}

// RefreshToken returns the current refresh token.
func (c *Credential) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refreshToken
}

// ClientID returns the OAuth2 client id.
func (c *Credential) ClientID() string {
	return c.clientID
}

// ValidUntil returns the access token expiry.
func (c *Credential) ValidUntil() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Unix(c.validUntil, 0)
}

// NearExpiry reports whether now + 5 minutes is past valid_until.
func (c *Credential) NearExpiry() bool {
	c.mu.RLock()
	validUntil := c.validUntil
	c.mu.RUnlock()
	return c.now().Add(ExpiryGuard).Unix() > validUntil
}

// AutoRefresh refreshes the token when it is near expiry. It never fails:
// a refresh error is logged and reported as false, leaving the current
// token in place for the next API call to surface the real problem. It
// returns true only when valid_until moved forward.
func (c *Credential) AutoRefresh(ctx context.Context) bool {
	if !c.NearExpiry() {
		return false
	}

	c.mu.RLock()
	before := c.validUntil
	c.mu.RUnlock()

	if err := c.Refresh(ctx); err != nil {
		c.logger.Warn("automatic token refresh failed", logging.Error(err))
		return false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.validUntil > before
}

// Refresh exchanges the refresh token for a new access token. A non-2xx
// answer is an Identity error; an unreadable body is a Parser error.
func (c *Credential) Refresh(ctx context.Context) error {
	c.mu.RLock()
	refreshToken := c.refreshToken
	c.mu.RUnlock()

	tr, err := c.requestToken(ctx, "credentials.Refresh", map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"refresh_token": refreshToken,
		"grant_type":    "refresh_token",
	})
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}

	validUntil, err := c.expiryOf(tr)
	if err != nil {
		metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeFailure).Inc()
		return err
	}

	c.mu.Lock()
	c.accessToken = tr.AccessToken
	c.validUntil = validUntil
	if tr.RefreshToken != "" {
		c.refreshToken = tr.RefreshToken
	}
	c.mu.Unlock()

	metrics.TokenRefreshes.WithLabelValues(metrics.OutcomeSuccess).Inc()
	c.logger.Info("access token refreshed", slog.Time("valid_until", time.Unix(validUntil, 0)))
	return nil
}

func (c *Credential) exchangeCode(ctx context.Context, code, redirectURI string) error {
	tr, err := c.requestToken(ctx, "credentials.exchangeCode", map[string]string{
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"code":          code,
		"redirect_uri":  redirectURI,
		"grant_type":    "authorization_code",
	})
	if err != nil {
		return err
	}
	if tr.RefreshToken == "" {
		return sdkerr.Identity("credentials.exchangeCode", "identity provider returned no refresh_token", nil)
	}

	validUntil, err := c.expiryOf(tr)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.accessToken = tr.AccessToken
	c.refreshToken = tr.RefreshToken
	c.validUntil = validUntil
	c.mu.Unlock()
	return nil
}

func (c *Credential) requestToken(ctx context.Context, op string, body map[string]string) (*tokenResponse, error) {
	resp, err := c.postIdentity(ctx, c.tokenURL, body)
	if err != nil {
		return nil, err
	}
	if !resp.ok() {
		return nil, sdkerr.Identity(op, fmt.Sprintf("token endpoint returned status %d: %s", resp.status, string(resp.body)), nil)
	}

	var tr tokenResponse
	if err := json.Unmarshal(resp.body, &tr); err != nil {
		return nil, sdkerr.Parser(op, "invalid token response", err)
	}
	if tr.AccessToken == "" {
		return nil, sdkerr.Parser(op, "token response has no access_token", nil)
	}
	return &tr, nil
}

// expiryOf prefers the server-reported lifetime and falls back to the
// exp claim of the new access token.
func (c *Credential) expiryOf(tr *tokenResponse) (int64, error) {
	if tr.ExpiresIn > 0 {
		return c.now().Unix() + int64(tr.ExpiresIn), nil
	}
	exp, err := ExpiryFromJWT(tr.AccessToken)
	if err != nil {
		return 0, sdkerr.Parser("credentials.expiryOf", "token response has neither expires_in nor a decodable exp", err)
	}
	return exp, nil
}

// Revoke invalidates the refresh token server-side. Any 2xx answer is
// success; other statuses are Identity errors.
func (c *Credential) Revoke(ctx context.Context) error {
	refreshToken := c.RefreshToken()
	if refreshToken == "" {
		return sdkerr.Config("credentials.Revoke", "no refresh token to revoke", nil)
	}

	resp, err := c.postIdentity(ctx, c.revokeURL, map[string]string{
		"client_id":       c.clientID,
		"client_secret":   c.clientSecret,
		"token":           refreshToken,
		"token_type_hint": "refresh_token",
	})
	if err != nil {
		return err
	}
	if !resp.ok() {
		return sdkerr.Identity("credentials.Revoke", fmt.Sprintf("revoke endpoint returned status %d: %s", resp.status, string(resp.body)), nil)
	}

	c.logger.Info("refresh token revoked")
	return nil
}
