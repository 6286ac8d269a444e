package oidc

import (
	"fmt"
	"time"
)

// State represents one OIDC authorization attempt. ID() is sent as the
// state parameter of the authorization request and must come back unchanged
// on the redirect; Nonce() is sent as the nonce parameter and is echoed in the
// id_token. The ID() and Nonce() cannot be equal.
type State interface {
	// ID is a unique identifier and an opaque value used to maintain state
	// between the authorization request and the redirect.
	ID() string

	// Nonce is a unique value used to associate the client session with an
	// id_token, and to mitigate replay attacks.
	Nonce() string

	// IsExpired returns true if the state has expired. Implementations should
	// support a WithExpirySkew option.
	IsExpired(opt ...Option) bool
}

// St represents the oidc state used for oidc flows.
type St struct {
	id         string
	nonce      string
	expiration time.Time
	nowFunc    func() time.Time
}

// ensure that St implements the State interface
var _ State = (*St)(nil)

// DefaultStateExpirySkew defines a default time skew when checking a State's
// expiration.
const DefaultStateExpirySkew = 1 * time.Second

// NewState creates a new State (*St). A random id and nonce are generated
// unless WithStateID or WithNonce are provided.
//
// Supported options: WithNow, WithStateID, WithNonce
func NewState(expireIn time.Duration, opt ...Option) (*St, error) {
	const op = "oidc.NewState"
	if expireIn <= 0 {
		return nil, fmt.Errorf("%s: expireIn not greater than zero: %w", op, ErrInvalidParameter)
	}
	opts := getStOpts(opt...)

	id := opts.withID
	if id == "" {
		var err error
		if id, err = NewID(WithPrefix("st")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a state's id: %w", op, err)
		}
	}
	nonce := opts.withNonce
	if nonce == "" {
		var err error
		if nonce, err = NewID(WithPrefix("n")); err != nil {
			return nil, fmt.Errorf("%s: unable to generate a state's nonce: %w", op, err)
		}
	}
	if id == nonce {
		return nil, fmt.Errorf("%s: id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	s := &St{
		id:      id,
		nonce:   nonce,
		nowFunc: opts.withNowFunc,
	}
	s.expiration = s.now().Add(expireIn)
	return s, nil
}

func (s *St) ID() string    { return s.id }    // ID implements the State.ID() interface function
func (s *St) Nonce() string { return s.nonce } // Nonce implements the State.Nonce() interface function

// Expiration returns when the state expires.
func (s *St) Expiration() time.Time { return s.expiration }

// IsExpired returns true if the state has expired. Supports the
// WithExpirySkew option and if none is provided it will use the
// DefaultStateExpirySkew.
func (s *St) IsExpired(opt ...Option) bool {
	opts := getStOpts(opt...)
	return s.expiration.Before(s.now().Add(opts.withExpirySkew))
}

// now returns the current time using the optional nowFunc.
func (s *St) now() time.Time {
	if s.nowFunc != nil {
		return s.nowFunc()
	}
	return time.Now() // fallback to this default
}

// stOptions is the set of available options for St functions
type stOptions struct {
	withExpirySkew time.Duration
	withNowFunc    func() time.Time
	withID         string
	withNonce      string
}

// stDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func stDefaults() stOptions {
	return stOptions{
		withExpirySkew: DefaultStateExpirySkew,
	}
}

// getStOpts gets the state defaults and applies the opt overrides passed in
func getStOpts(opt ...Option) stOptions {
	opts := stDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithStateID overrides the generated state id. It must be a high entropy
// value that is never reused.
func WithStateID(id string) Option {
	return func(o interface{}) {
		if o, ok := o.(*stOptions); ok {
			o.withID = id
		}
	}
}

// WithNonce overrides the generated nonce of a State, or sets the nonce an
// exchanged id_token must carry.
//
// Valid for: State, Client exchanges
func WithNonce(nonce string) Option {
	return func(o interface{}) {
		switch v := o.(type) {
		case *stOptions:
			v.withNonce = nonce
		case *exchangeOptions:
			v.withNonce = nonce
		}
	}
}
