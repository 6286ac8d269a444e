package oidc

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/openaccounts/oidcaccount/jwt"
)

// IdToken is an oidc id_token
type IdToken string

// RedactedIdToken is the redacted string or json for an oidc id_token
const RedactedIdToken = "[REDACTED: id_token]"

// String will redact the token
func (t IdToken) String() string {
	return RedactedIdToken
}

// MarshalJSON will redact the token
func (t IdToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedIdToken)
}

// Claims decodes the id_token claims without verifying them.
func (t IdToken) Claims() (*jwt.Claims, error) {
	const op = "IdToken.Claims"
	if len(t) == 0 {
		return nil, fmt.Errorf("%s: id_token is empty: %w", op, ErrInvalidParameter)
	}
	c, err := jwt.ParseClaims(string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

// AccessToken is an oauth access_token
type AccessToken string

// RedactedAccessToken is the redacted string or json for an oauth access_token
const RedactedAccessToken = "[REDACTED: access_token]"

// String will redact the token
func (t AccessToken) String() string {
	return RedactedAccessToken
}

// MarshalJSON will redact the token
func (t AccessToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedAccessToken)
}

// RefreshToken is an oauth refresh_token
type RefreshToken string

// RedactedRefreshToken is the redacted string or json for an oauth refresh_token
const RedactedRefreshToken = "[REDACTED: refresh_token]"

// String will redact the token
func (t RefreshToken) String() string {
	return RedactedRefreshToken
}

// MarshalJSON will redact the token
func (t RefreshToken) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedRefreshToken)
}

// TokenSet is the result of a successful authorization or token exchange.
// Any field may be empty, but a usable set carries an access_token or an
// id_token (either can be sent as a bearer credential).
type TokenSet struct {
	IdToken      IdToken      `json:"id_token,omitempty"`
	AccessToken  AccessToken  `json:"access_token,omitempty"`
	RefreshToken RefreshToken `json:"refresh_token,omitempty"`
	TokenType    string       `json:"token_type,omitempty"`
	Expiry       time.Time    `json:"expiry,omitempty"`
	Scope        string       `json:"scope,omitempty"`
}

// DefaultTokenExpirySkew defines a time skew when checking a TokenSet's
// expiration.
const DefaultTokenExpirySkew = 10 * time.Second

// Validate returns ErrInvalidResponse when the set carries neither an
// access_token nor an id_token.
func (t *TokenSet) Validate() error {
	const op = "TokenSet.Validate"
	if t == nil {
		return fmt.Errorf("%s: token set is nil: %w", op, ErrNilParameter)
	}
	if t.AccessToken == "" && t.IdToken == "" {
		return fmt.Errorf("%s: token set has neither access_token nor id_token: %w", op, ErrInvalidResponse)
	}
	return nil
}

// Bearer returns the credential to present to an API: the access_token when
// present, otherwise the id_token.
func (t *TokenSet) Bearer() string {
	if t == nil {
		return ""
	}
	if t.AccessToken != "" {
		return string(t.AccessToken)
	}
	return string(t.IdToken)
}

// IsExpired returns true if the set has a known expiry that has passed.
// Supports the WithExpirySkew and WithNow options.
func (t *TokenSet) IsExpired(opt ...Option) bool {
	if t == nil || t.Expiry.IsZero() {
		return false
	}
	opts := getTokenOpts(opt...)
	return t.Expiry.Round(0).Before(opts.withNowFunc().Add(opts.withExpirySkew))
}

// tokenOptions is the set of available options for TokenSet functions
type tokenOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
}

// tokenDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func tokenDefaults() tokenOptions {
	return tokenOptions{
		withExpirySkew: DefaultTokenExpirySkew,
		withNowFunc:    time.Now,
	}
}

// getTokenOpts gets the token defaults and applies the opt overrides passed
// in
func getTokenOpts(opt ...Option) tokenOptions {
	opts := tokenDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
