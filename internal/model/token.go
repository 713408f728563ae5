package model

import "time"

// TokenPair is the ERP credential set. It is only ever replaced as a whole.
type TokenPair struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in,omitempty"`
	ObtainedAt   time.Time `json:"obtained_at"`
}

// HasAccessToken reports whether the pair can be used for API calls
// without a refresh first.
func (p *TokenPair) HasAccessToken() bool {
	return p != nil && p.AccessToken != ""
}
