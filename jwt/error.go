package jwt

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrMalformedToken   = errors.New("malformed token")
	ErrUnsupportedAlg   = errors.New("unsupported signing algorithm")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidAudience  = errors.New("invalid audience")
	ErrInvalidIssuer    = errors.New("invalid issuer")
	ErrMissingExpiry    = errors.New("missing expiration")
	ErrExpired          = errors.New("token is expired")
	ErrNotValidYet      = errors.New("token not valid yet")
)
