package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"bling-wix-sync/internal/bling"
	"bling-wix-sync/internal/cache"
	"bling-wix-sync/internal/model"
	"bling-wix-sync/pkg/apierror"
	"bling-wix-sync/pkg/response"
	"bling-wix-sync/pkg/uid"
)

const (
	oauthStatePrefix = "oauth:state:"
	oauthStateTTL    = 10 * time.Minute
)

// AuthorizationFlow is the ERP side of the operator authorization flow.
type AuthorizationFlow interface {
	AuthorizeURL(state string) (string, error)
	ExchangeAuthorizationCode(ctx context.Context, code, redirectURI string) (*model.TokenPair, error)
}

// OAuthHandler handles the operator authorization flow.
type OAuthHandler struct {
	flow   AuthorizationFlow
	states cache.Cache
}

// NewOAuthHandler creates a new OAuth handler.
func NewOAuthHandler(flow AuthorizationFlow, states cache.Cache) *OAuthHandler {
	return &OAuthHandler{flow: flow, states: states}
}

// AuthorizeResponse is returned instead of a redirect when redirect=false.
type AuthorizeResponse struct {
	AuthorizeURL string `json:"authorize_url"`
	ExpiresIn    int    `json:"expires_in"`
}

// Authorize handles GET /api/v1/oauth/authorize[?redirect=false]
func (h *OAuthHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	state := uid.New()

	target, err := h.flow.AuthorizeURL(state)
	if err != nil {
		response.Error(w, apierror.ServiceUnavailable(err.Error()).WithKind(model.ErrorKindConfig))
		return
	}

	if err := h.states.Set(r.Context(), oauthStatePrefix+state, []byte("1"), oauthStateTTL); err != nil {
		response.Error(w, apierror.InternalError("failed to store authorization state"))
		return
	}

	if r.URL.Query().Get("redirect") == "false" {
		response.OK(w, AuthorizeResponse{AuthorizeURL: target, ExpiresIn: int(oauthStateTTL.Seconds())})
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// CallbackResponse confirms a completed authorization without exposing tokens.
type CallbackResponse struct {
	Authorized bool      `json:"authorized"`
	ObtainedAt time.Time `json:"obtained_at"`
	ExpiresIn  int       `json:"expires_in"`
}

// Callback handles GET /api/v1/oauth/callback?code=...&state=...
// The exchange waits for any token refresh in flight, so it never
// interleaves with a running sync's refresh.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if errParam := q.Get("error"); errParam != "" {
		response.Error(w, apierror.BadRequest("authorization denied: "+errParam))
		return
	}

	code, state := q.Get("code"), q.Get("state")
	if code == "" {
		response.Error(w, apierror.BadRequest("code is required"))
		return
	}
	if state == "" {
		response.Error(w, apierror.BadRequest("state is required"))
		return
	}

	if _, err := h.states.Take(r.Context(), oauthStatePrefix+state); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			response.Error(w, apierror.BadRequest("unknown or expired state"))
			return
		}
		response.Error(w, apierror.InternalError("failed to verify authorization state"))
		return
	}

	pair, err := h.flow.ExchangeAuthorizationCode(r.Context(), code, "")
	if err != nil {
		var cfgErr *bling.ConfigError
		if errors.As(err, &cfgErr) {
			response.Error(w, apierror.ServiceUnavailable(err.Error()).WithKind(model.ErrorKindConfig))
			return
		}
		response.Error(w, apierror.BadGateway(err.Error()).WithKind(model.ErrorKindAuth))
		return
	}

	response.OK(w, CallbackResponse{
		Authorized: true,
		ObtainedAt: pair.ObtainedAt,
		ExpiresIn:  pair.ExpiresIn,
	})
}
