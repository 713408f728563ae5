package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFlow struct {
	authorizeErr error
	exchangeErr  error
	codes        []string
}

func (f *fakeFlow) AuthorizeURL(state string) (string, error) {
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	return "https://erp.example/authorize?state=" + url.QueryEscape(state), nil
}

func (f *fakeFlow) ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (*model.TokenPair, error) {
	f.codes = append(f.codes, code)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return &model.TokenPair{
		AccessToken:  "access",
		RefreshToken: "refresh",
		ExpiresIn:    21600,
		ObtainedAt:   time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func newOAuthHandler(t *testing.T, flow *fakeFlow) (*OAuthHandler, *cache.MemoryCache) {
	t.Helper()
	states := cache.NewMemoryCache()
	t.Cleanup(func() { states.Close() })
	return NewOAuthHandler(flow, states), states
}

func authorizeState(t *testing.T, h *OAuthHandler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Authorize(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize?redirect=false", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got AuthorizeResponse
	decode(t, rec, &got)
	u, err := url.Parse(got.AuthorizeURL)
	require.NoError(t, err)
	state := u.Query().Get("state")
	require.NotEmpty(t, state)
	return state
}

func TestOAuthHandler_AuthorizeRedirects(t *testing.T) {
	h, states := newOAuthHandler(t, &fakeFlow{})

	rec := httptest.NewRecorder()
	h.Authorize(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	u, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "erp.example", u.Host)

	ok, err := states.Exists(context.Background(), oauthStatePrefix+u.Query().Get("state"))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOAuthHandler_AuthorizeJSON(t *testing.T) {
	h, _ := newOAuthHandler(t, &fakeFlow{})

	rec := httptest.NewRecorder()
	h.Authorize(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize?redirect=false", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got AuthorizeResponse
	decode(t, rec, &got)
	assert.Contains(t, got.AuthorizeURL, "state=")
	assert.Equal(t, 600, got.ExpiresIn)
}

func TestOAuthHandler_AuthorizeWithoutClientID(t *testing.T) {
	h, _ := newOAuthHandler(t, &fakeFlow{authorizeErr: &bling.ConfigError{Field: "CLIENT_ID", Msg: "not set"}})

	rec := httptest.NewRecorder()
	h.Authorize(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/authorize", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	env := decode(t, rec, nil)
	assert.Equal(t, model.ErrorKindConfig, env.Error.Kind)
}

func TestOAuthHandler_Callback(t *testing.T) {
	flow := &fakeFlow{}
	h, _ := newOAuthHandler(t, flow)
	state := authorizeState(t, h)

	rec := httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?code=abc&state="+state, nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var got CallbackResponse
	decode(t, rec, &got)
	assert.True(t, got.Authorized)
	assert.Equal(t, 21600, got.ExpiresIn)
	assert.Equal(t, []string{"abc"}, flow.codes)
	assert.NotContains(t, rec.Body.String(), "refresh")

	// states are single use
	rec = httptest.NewRecorder()
	h.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?code=abc&state="+state, nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, flow.codes, 1)
}

func TestOAuthHandler_CallbackRejects(t *testing.T) {
	tests := []struct {
		name  string
		query string
	}{
		{name: "denied by user", query: "error=access_denied"},
		{name: "missing code", query: "state=abc"},
		{name: "missing state", query: "code=abc"},
		{name: "unknown state", query: "code=abc&state=forged"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flow := &fakeFlow{}
			h, _ := newOAuthHandler(t, flow)

			rec := httptest.NewRecorder()
			h.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?"+tt.query, nil))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Empty(t, flow.codes)
		})
	}
}

func TestOAuthHandler_CallbackExchangeFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		wantKind string
	}{
		{name: "rejected code", err: &bling.AuthError{Type: bling.InvalidGrant, StatusCode: http.StatusBadRequest, Message: "expired"}, want: http.StatusBadGateway, wantKind: model.ErrorKindAuth},
		{name: "missing secret", err: &bling.ConfigError{Field: "CLIENT_SECRET", Msg: "not set"}, want: http.StatusServiceUnavailable, wantKind: model.ErrorKindConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newOAuthHandler(t, &fakeFlow{exchangeErr: tt.err})
			state := authorizeState(t, h)

			rec := httptest.NewRecorder()
			h.Callback(rec, httptest.NewRequest(http.MethodGet, "/api/v1/oauth/callback?code=abc&state="+state, nil))

			assert.Equal(t, tt.want, rec.Code)
			env := decode(t, rec, nil)
			assert.Equal(t, tt.wantKind, env.Error.Kind)
		})
	}
}
