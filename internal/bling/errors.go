package bling

import (
	"errors"
	"fmt"
)

// ErrUnauthorized is returned when the ERP rejects the access token (HTTP 401).
// Callers refresh once and retry once.
var ErrUnauthorized = errors.New("bling: access token rejected")

// InvalidGrant is the ERP error type for a revoked or expired refresh token.
const InvalidGrant = "invalid_grant"

// ConfigError reports a missing credential or endpoint.
type ConfigError struct {
	Field string
	Msg   string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Msg)
}

// AuthError is a failed token exchange.
type AuthError struct {
	Type       string
	StatusCode int
	Message    string
	Err        error
}

func (e *AuthError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("auth error (%s): %v", e.kind(), e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("auth error (%s): status %d: %s", e.kind(), e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("auth error (%s): %s", e.kind(), e.Message)
	}
}

func (e *AuthError) Unwrap() error { return e.Err }

func (e *AuthError) kind() string {
	if e.Type == "" {
		return "other"
	}
	return e.Type
}

// IsInvalidGrant reports whether recovery needs a new authorization code.
func (e *AuthError) IsInvalidGrant() bool {
	return e.Type == InvalidGrant
}

// IsInvalidGrant reports whether err carries an invalid_grant AuthError.
func IsInvalidGrant(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr) && authErr.IsInvalidGrant()
}

// FetchError is returned when pagination produced no products at all.
type FetchError struct {
	PagesFetched int
	PagesFailed  int
	Err          error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("no products found (pages fetched=%d, failed=%d)", e.PagesFetched, e.PagesFailed)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error { return e.Err }

// EmptyCatalog reports whether the ERP answered every page and simply has
// no products, as opposed to pages failing.
func (e *FetchError) EmptyCatalog() bool {
	return e.PagesFailed == 0 && e.PagesFetched > 0
}
