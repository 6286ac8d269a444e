package oidc

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// errorAccessDenied is the authorization error returned when the user
// declines the request.
const errorAccessDenied = "access_denied"

// AuthorizationResult is the transient result of an authorization request,
// parsed from the redirect url. It is never persisted.
type AuthorizationResult struct {
	State            string
	Code             string
	IdToken          IdToken
	AccessToken      AccessToken
	TokenType        string
	ExpiresIn        int
	Scope            string
	Error            string
	ErrorDescription string
}

// ParseRedirect parses the url the provider redirected to after an
// authorization request built with AuthURL. The code flow reads its
// parameters from the query; the implicit and hybrid flows from the fragment.
//
// A redirect carrying error=access_denied returns ErrCancelled. Any other
// error returns an *AuthError. A url that does not start with the config's
// RedirectUrl returns ErrNotRedirect.
func ParseRedirect(c *Config, redirectURL string) (*AuthorizationResult, error) {
	const op = "oidc.ParseRedirect"
	switch {
	case c == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case c.RedirectUrl == "":
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	case !isRedirect(redirectURL, c.RedirectUrl):
		return nil, fmt.Errorf("%s: %w", op, ErrNotRedirect)
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse redirect: %s: %w", op, err.Error(), ErrInvalidParameter)
	}
	query := u.Query()
	fragment, err := url.ParseQuery(u.EscapedFragment())
	if err != nil {
		return nil, fmt.Errorf("%s: unable to parse redirect fragment: %s: %w", op, err.Error(), ErrInvalidResponse)
	}

	// errors may come back in either part regardless of the flow
	for _, v := range []url.Values{query, fragment} {
		if e := v.Get("error"); e != "" {
			r := &AuthorizationResult{State: v.Get("state"), Error: e, ErrorDescription: v.Get("error_description")}
			if e == errorAccessDenied {
				return r, fmt.Errorf("%s: %w", op, ErrCancelled)
			}
			return r, fmt.Errorf("%s: %w", op, &AuthError{ErrorCode: e, Description: r.ErrorDescription})
		}
	}

	switch c.Flow {
	case CodeFlow:
		r := resultFromValues(query)
		if r.Code == "" {
			return nil, fmt.Errorf("%s: %w", op, ErrMissingCode)
		}
		return r, nil
	case ImplicitFlow:
		r, err := parseImplicit(fragment)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return r, nil
	case HybridFlow:
		r := resultFromValues(fragment)
		switch {
		case r.Code == "":
			return nil, fmt.Errorf("%s: %w", op, ErrMissingCode)
		case r.IdToken == "":
			return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
		}
		return r, nil
	default:
		return nil, fmt.Errorf("%s: %q has no redirect: %w", op, c.Flow, ErrUnsupportedFlow)
	}
}

// isRedirect reports whether u is the redirect url prefix itself, optionally
// followed by a path, query or fragment.
func isRedirect(u, prefix string) bool {
	if !strings.HasPrefix(u, prefix) {
		return false
	}
	rest := u[len(prefix):]
	return rest == "" || strings.HasSuffix(prefix, "/") || strings.IndexByte("/?#", rest[0]) >= 0
}

// ParseImplicitFragment parses an implicit flow redirect fragment into a
// TokenSet without any network call. The fragment may start with "#".
// access_token, id_token, token_type and expires_in are all required.
//
// Supported options: WithNow
func ParseImplicitFragment(fragment string, opt ...Option) (*TokenSet, error) {
	const op = "oidc.ParseImplicitFragment"
	v, err := url.ParseQuery(strings.TrimPrefix(fragment, "#"))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInvalidResponse)
	}
	r, err := parseImplicit(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return r.TokenSet(opt...), nil
}

// TokenSet returns the tokens carried directly by the redirect. Expiry is
// computed from ExpiresIn relative to now.
//
// Supported options: WithNow
func (r *AuthorizationResult) TokenSet(opt ...Option) *TokenSet {
	opts := getTokenOpts(opt...)
	ts := &TokenSet{
		IdToken:     r.IdToken,
		AccessToken: r.AccessToken,
		TokenType:   r.TokenType,
		Scope:       r.Scope,
	}
	if r.ExpiresIn > 0 {
		ts.Expiry = opts.withNowFunc().Add(time.Duration(r.ExpiresIn) * time.Second)
	}
	return ts
}

func parseImplicit(v url.Values) (*AuthorizationResult, error) {
	for _, k := range []string{"access_token", "id_token", "token_type", "expires_in"} {
		if v.Get(k) == "" {
			return nil, fmt.Errorf("missing %s: %w", k, ErrInvalidResponse)
		}
	}
	expiresIn, err := strconv.Atoi(v.Get("expires_in"))
	if err != nil || expiresIn < 0 {
		return nil, fmt.Errorf("expires_in %q is not a number of seconds: %w", v.Get("expires_in"), ErrInvalidResponse)
	}
	r := resultFromValues(v)
	r.ExpiresIn = expiresIn
	return r, nil
}

func resultFromValues(v url.Values) *AuthorizationResult {
	r := &AuthorizationResult{
		State:       v.Get("state"),
		Code:        v.Get("code"),
		IdToken:     IdToken(v.Get("id_token")),
		AccessToken: AccessToken(v.Get("access_token")),
		TokenType:   v.Get("token_type"),
		Scope:       v.Get("scope"),
	}
	if n, err := strconv.Atoi(v.Get("expires_in")); err == nil {
		r.ExpiresIn = n
	}
	return r
}
