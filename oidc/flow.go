package oidc

import (
	"fmt"
	"strings"
)

// Flow is the OIDC flow variant used to obtain tokens.
type Flow string

const (
	// CodeFlow is the authorization code flow; tokens come from the token
	// endpoint in exchange for a code returned in the redirect query.
	CodeFlow Flow = "code"

	// ImplicitFlow returns the id_token and access_token in the redirect
	// fragment. No refresh_token is ever issued.
	ImplicitFlow Flow = "implicit"

	// HybridFlow returns a code and an id_token in the redirect fragment; the
	// code is then exchanged at the token endpoint.
	HybridFlow Flow = "hybrid"

	// PasswordFlow is the resource owner password credentials grant. It does
	// not use the authorization endpoint.
	PasswordFlow Flow = "password"
)

// ParseFlow parses s case-insensitively.
func ParseFlow(s string) (Flow, error) {
	const op = "oidc.ParseFlow"
	f := Flow(strings.ToLower(strings.TrimSpace(s)))
	if !f.Valid() {
		return "", fmt.Errorf("%s: %q: %w", op, s, ErrUnsupportedFlow)
	}
	return f, nil
}

// Valid reports whether f is a known flow.
func (f Flow) Valid() bool {
	switch f {
	case CodeFlow, ImplicitFlow, HybridFlow, PasswordFlow:
		return true
	default:
		return false
	}
}

// ResponseType returns the authorization request response_type for f.
func (f Flow) ResponseType() (string, error) {
	const op = "Flow.ResponseType"
	switch f {
	case CodeFlow:
		return "code", nil
	case ImplicitFlow:
		return "id_token token", nil
	case HybridFlow:
		return "code id_token", nil
	default:
		return "", fmt.Errorf("%s: %q has no authorization request: %w", op, f, ErrUnsupportedFlow)
	}
}
