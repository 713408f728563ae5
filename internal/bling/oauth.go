package bling

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"bling-wix-sync/internal/logger"
	"bling-wix-sync/internal/model"

	"golang.org/x/exp/slog"
)

// TokenStore holds the current token pair.
type TokenStore interface {
	Current() (model.TokenPair, bool)
	Replace(ctx context.Context, pair model.TokenPair) error
	Clear(ctx context.Context) error
}

// OAuthConfig holds client credentials and endpoints.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	TokenURL     string
	AuthorizeURL string
}

// OAuthClient exchanges authorization codes and refresh tokens against the
// ERP token endpoint and keeps the TokenStore current. Exchanges are
// serialized: each one reads and replaces the stored pair while no other
// exchange is in flight, so a code exchange and a refresh never interleave.
type OAuthClient struct {
	cfg        OAuthConfig
	httpClient *http.Client
	store      TokenStore
	log        *slog.Logger
	now        func() time.Time

	exchangeMu sync.Mutex
}

// NewOAuthClient creates an OAuth client.
func NewOAuthClient(cfg OAuthConfig, httpClient *http.Client, store TokenStore, log *slog.Logger) *OAuthClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &OAuthClient{
		cfg:        cfg,
		httpClient: httpClient,
		store:      store,
		log:        log.With(slog.String("component", "bling_oauth")),
		now:        time.Now,
	}
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// AuthorizeURL builds the operator-facing authorization URL.
func (c *OAuthClient) AuthorizeURL(state string) (string, error) {
	if c.cfg.ClientID == "" {
		return "", &ConfigError{Field: "CLIENT_ID", Msg: "not configured"}
	}
	q := url.Values{}
	q.Set("response_type", "code")
	q.Set("client_id", c.cfg.ClientID)
	q.Set("state", state)
	if c.cfg.RedirectURI != "" {
		q.Set("redirect_uri", c.cfg.RedirectURI)
	}
	return c.cfg.AuthorizeURL + "?" + q.Encode(), nil
}

// ExchangeAuthorizationCode trades an authorization code for a token pair
// and stores it.
func (c *OAuthClient) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (*model.TokenPair, error) {
	if code == "" {
		return nil, &ConfigError{Field: "code", Msg: "authorization code is empty"}
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}

	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	resp, err := c.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	pair := model.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		ObtainedAt:   c.now(),
	}
	c.replace(ctx, pair)

	c.log.Info("authorization code exchanged", slog.Int("expires_in", resp.ExpiresIn))
	return &pair, nil
}

// Refresh exchanges currentRefreshToken for a new pair. When the ERP rotates
// the refresh token the new one replaces the old everywhere; when the
// response carries none the old one is kept.
func (c *OAuthClient) Refresh(ctx context.Context, currentRefreshToken, redirectURI string) (*model.TokenPair, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()
	return c.refresh(ctx, currentRefreshToken, redirectURI)
}

func (c *OAuthClient) refresh(ctx context.Context, currentRefreshToken, redirectURI string) (*model.TokenPair, error) {
	if currentRefreshToken == "" {
		return nil, &ConfigError{Field: "REFRESH_TOKEN", Msg: "no refresh token available"}
	}
	if redirectURI == "" {
		redirectURI = c.cfg.RedirectURI
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", currentRefreshToken)
	if redirectURI != "" {
		form.Set("redirect_uri", redirectURI)
	}

	resp, err := c.requestToken(ctx, form)
	if err != nil {
		if IsInvalidGrant(err) {
			c.log.Error("refresh token rejected, a new authorization is required")
			// A pair stored since currentRefreshToken was read is left alone.
			if held, ok := c.store.Current(); ok && held.RefreshToken == currentRefreshToken {
				if clearErr := c.store.Clear(ctx); clearErr != nil {
					c.log.Error("failed to clear token store", logger.Err(clearErr))
				}
			}
		}
		return nil, err
	}

	pair := model.TokenPair{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresIn:    resp.ExpiresIn,
		ObtainedAt:   c.now(),
	}
	rotated := pair.RefreshToken != "" && pair.RefreshToken != currentRefreshToken
	if pair.RefreshToken == "" {
		pair.RefreshToken = currentRefreshToken
	}
	c.replace(ctx, pair)

	c.log.Info("access token refreshed", slog.Bool("refresh_token_rotated", rotated))
	return &pair, nil
}

// RefreshStored refreshes using the refresh token held by the store and
// returns the new access token.
func (c *OAuthClient) RefreshStored(ctx context.Context) (string, error) {
	c.exchangeMu.Lock()
	defer c.exchangeMu.Unlock()

	current, ok := c.store.Current()
	if !ok || current.RefreshToken == "" {
		return "", &ConfigError{Field: "REFRESH_TOKEN", Msg: "no refresh token configured; run the authorization flow"}
	}
	pair, err := c.refresh(ctx, current.RefreshToken, "")
	if err != nil {
		return "", err
	}
	return pair.AccessToken, nil
}

// EnsureValidToken returns the held access token. Expiry is not checked;
// callers react to ErrUnauthorized by calling RefreshStored once. When only
// a bootstrap refresh token is held, a refresh is performed first.
func (c *OAuthClient) EnsureValidToken(ctx context.Context) (string, error) {
	if err := c.checkCredentials(); err != nil {
		return "", err
	}

	current, ok := c.store.Current()
	if !ok {
		return "", &ConfigError{Field: "REFRESH_TOKEN", Msg: "no token pair held; run the authorization flow"}
	}
	if current.HasAccessToken() {
		return current.AccessToken, nil
	}
	return c.RefreshStored(ctx)
}

func (c *OAuthClient) checkCredentials() error {
	switch {
	case c.cfg.ClientID == "":
		return &ConfigError{Field: "CLIENT_ID", Msg: "not configured"}
	case c.cfg.ClientSecret == "":
		return &ConfigError{Field: "CLIENT_SECRET", Msg: "not configured"}
	case c.cfg.TokenURL == "":
		return &ConfigError{Field: "BLING_TOKEN_URL", Msg: "not configured"}
	}
	return nil
}

func (c *OAuthClient) replace(ctx context.Context, pair model.TokenPair) {
	if err := c.store.Replace(ctx, pair); err != nil {
		// The in-memory pair is already swapped; only persistence failed.
		c.log.Error("failed to persist token pair", logger.Err(err))
	}
}

func (c *OAuthClient) basicAuth() string {
	raw := c.cfg.ClientID + ":" + c.cfg.ClientSecret
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}

func (c *OAuthClient) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	if err := c.checkCredentials(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.basicAuth())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &AuthError{Message: "token request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: "failed to read token response", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errType, msg := parseTokenError(body)
		return nil, &AuthError{Type: errType, StatusCode: resp.StatusCode, Message: msg}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: "malformed token response", Err: err}
	}
	if tr.AccessToken == "" {
		return nil, &AuthError{StatusCode: resp.StatusCode, Message: "token response lacks access_token"}
	}
	return &tr, nil
}

// parseTokenError understands both the ERP shape
// {"error":{"type":"invalid_grant","message":"..."}} and the RFC 6749 shape
// {"error":"invalid_grant","error_description":"..."}.
func parseTokenError(body []byte) (string, string) {
	var envelope struct {
		Error       json.RawMessage `json:"error"`
		Description string          `json:"error_description"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Error) == 0 {
		return "", truncate(string(body), 200)
	}

	var code string
	if err := json.Unmarshal(envelope.Error, &code); err == nil {
		return code, envelope.Description
	}

	var detail struct {
		Type        string `json:"type"`
		Message     string `json:"message"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(envelope.Error, &detail); err != nil {
		return "", truncate(string(body), 200)
	}
	msg := detail.Message
	if detail.Description != "" {
		msg = strings.TrimSpace(msg + " " + detail.Description)
	}
	return detail.Type, msg
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// IsTransient reports whether an auth failure is worth one more attempt.
func IsTransient(err error) bool {
	var authErr *AuthError
	if !errors.As(err, &authErr) || authErr.IsInvalidGrant() {
		return false
	}
	return authErr.StatusCode == 0 || authErr.StatusCode >= 500 || authErr.StatusCode == http.StatusTooManyRequests
}
