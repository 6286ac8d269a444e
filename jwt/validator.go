package jwt

import (
	"context"
	"errors"
	"fmt"
	"time"

	josejwt "gopkg.in/square/go-jose.v2/jwt"
)

// Claims are the ID token claims this module relies on. The registered claims
// come from go-jose; the rest are standard OIDC profile claims.
type Claims struct {
	josejwt.Claims
	Nonce             string `json:"nonce,omitempty"`
	Name              string `json:"name,omitempty"`
	GivenName         string `json:"given_name,omitempty"`
	FamilyName        string `json:"family_name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
}

// Validator validates ID tokens. When it has a KeySet the token signature is
// verified first, otherwise only the claims are checked.
type Validator struct {
	keySet    KeySet
	clockSkew time.Duration
	now       func() time.Time
	issuer    string
	algs      []Alg
}

// NewValidator returns a Validator. keySet may be nil, in which case
// signatures are not verified; this matches clients that only inspect tokens
// they received directly from the token endpoint over TLS.
//
// Supported options: WithClockSkew, WithNow, WithIssuer, WithSupportedAlgorithms
func NewValidator(keySet KeySet, opt ...Option) (*Validator, error) {
	const op = "jwt.NewValidator"
	opts := getValidatorOpts(opt...)
	if err := SupportedSigningAlgorithm(opts.withAlgs...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Validator{
		keySet:    keySet,
		clockSkew: opts.withClockSkew,
		now:       opts.withNow,
		issuer:    opts.withIssuer,
		algs:      opts.withAlgs,
	}, nil
}

// ClockSkew returns the leeway used for time based claims.
func (v *Validator) ClockSkew() time.Duration { return v.clockSkew }

// ValidateIdToken checks that raw is a well formed JWT whose audience
// contains clientId and which is neither expired nor not yet valid, within
// the configured clock skew. The parsed claims are returned on success.
func (v *Validator) ValidateIdToken(ctx context.Context, clientId, raw string) (*Claims, error) {
	const op = "Validator.ValidateIdToken"
	switch {
	case clientId == "":
		return nil, fmt.Errorf("%s: missing client id: %w", op, ErrInvalidParameter)
	case raw == "":
		return nil, fmt.Errorf("%s: missing id token: %w", op, ErrMalformedToken)
	}
	tok, err := josejwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}
	if len(tok.Headers) != 1 {
		return nil, fmt.Errorf("%s: expected exactly one signature: %w", op, ErrMalformedToken)
	}
	if err := v.checkAlg(Alg(tok.Headers[0].Algorithm)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if v.keySet != nil {
		if _, err := v.keySet.VerifySignature(ctx, raw); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	var c Claims
	if err := tok.UnsafeClaimsWithoutVerification(&c); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}
	if c.Expiry == nil {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingExpiry)
	}
	expected := josejwt.Expected{
		Audience: josejwt.Audience{clientId},
		Issuer:   v.issuer,
		Time:     v.now(),
	}
	if err := c.ValidateWithLeeway(expected, v.clockSkew); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapClaimsError(err))
	}
	return &c, nil
}

// IsValid reports whether raw passes ValidateIdToken.
func (v *Validator) IsValid(ctx context.Context, clientId, raw string) bool {
	_, err := v.ValidateIdToken(ctx, clientId, raw)
	return err == nil
}

func (v *Validator) checkAlg(a Alg) error {
	if err := SupportedSigningAlgorithm(a); err != nil {
		return err
	}
	if len(v.algs) == 0 {
		return nil
	}
	for _, allowed := range v.algs {
		if a == allowed {
			return nil
		}
	}
	return fmt.Errorf("algorithm %q is not allowed: %w", a, ErrUnsupportedAlg)
}

// ParseClaims decodes the claims of raw without verifying anything. It is
// meant for display purposes, e.g. deriving an account name.
func ParseClaims(raw string) (*Claims, error) {
	const op = "jwt.ParseClaims"
	tok, err := josejwt.ParseSigned(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}
	var c Claims
	if err := tok.UnsafeClaimsWithoutVerification(&c); err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrMalformedToken)
	}
	return &c, nil
}

func mapClaimsError(err error) error {
	switch {
	case errors.Is(err, josejwt.ErrInvalidAudience):
		return ErrInvalidAudience
	case errors.Is(err, josejwt.ErrInvalidIssuer):
		return ErrInvalidIssuer
	case errors.Is(err, josejwt.ErrExpired):
		return ErrExpired
	case errors.Is(err, josejwt.ErrNotValidYet):
		return ErrNotValidYet
	default:
		return fmt.Errorf("%s: %w", err.Error(), ErrMalformedToken)
	}
}
