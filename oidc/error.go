package oidc

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidParameter     = errors.New("invalid parameter")
	ErrNilParameter         = errors.New("nil parameter")
	ErrInvalidCACert        = errors.New("invalid CA certificate")
	ErrIdGeneratorFailed    = errors.New("id generation failed")
	ErrUnsupportedFlow      = errors.New("unsupported flow")
	ErrDiscoveryFailed      = errors.New("provider discovery failed")
	ErrExpiredState         = errors.New("state is expired")
	ErrResponseStateInvalid = errors.New("oidc response state")
	ErrInvalidNonce         = errors.New("invalid nonce")
	ErrMissingIdToken       = errors.New("id_token is missing")
	ErrMissingCode          = errors.New("authorization code is missing")
	ErrNotRedirect          = errors.New("url is not a redirect for this client")
	ErrCancelled            = errors.New("authorization cancelled")
	ErrAuthorizationFailed  = errors.New("authorization failed")

	// ErrInvalidResponse means the token endpoint answered but the body lacks
	// a usable token.
	ErrInvalidResponse = errors.New("invalid token response")
	// ErrInvalidIdToken means an id_token was present but failed validation.
	ErrInvalidIdToken = errors.New("invalid id_token")
	// ErrRefreshRejected means the provider refused the refresh token with
	// invalid_grant; a new interactive authorization is needed.
	ErrRefreshRejected = errors.New("refresh token rejected")
	// ErrNetworkFailure covers transport errors and unexpected HTTP errors
	// from the token endpoint.
	ErrNetworkFailure = errors.New("network failure")
)

// TokenError describes an error response from the token endpoint. Kind is one
// of ErrRefreshRejected, ErrNetworkFailure or ErrInvalidResponse and is
// returned by Unwrap so callers can classify with errors.Is.
type TokenError struct {
	StatusCode  int
	ErrorCode   string
	Description string
	Kind        error
}

func (e *TokenError) Error() string {
	msg := fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	if e.ErrorCode != "" {
		msg += ": " + e.ErrorCode
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	return msg
}

func (e *TokenError) Unwrap() error { return e.Kind }

// AuthError is an error returned by the authorization endpoint through the
// redirect url. It wraps ErrAuthorizationFailed.
type AuthError struct {
	ErrorCode   string
	Description string
}

func (e *AuthError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("%s: %s", ErrAuthorizationFailed, e.ErrorCode)
	}
	return fmt.Sprintf("%s: %s: %s", ErrAuthorizationFailed, e.ErrorCode, e.Description)
}

func (e *AuthError) Unwrap() error { return ErrAuthorizationFailed }
