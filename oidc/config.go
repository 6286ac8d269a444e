package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/text/language"

	"github.com/openaccounts/oidcaccount/jwt"
	"github.com/openaccounts/oidcaccount/oidc/internal/strutils"
	sdkHttp "github.com/openaccounts/oidcaccount/sdk/http"
)

// ClientSecret is an oauth client secret
type ClientSecret string

// RedactedClientSecret is the redacted string or json for an oauth client secret
const RedactedClientSecret = "[REDACTED: client secret]"

// String will redact the client secret
func (t ClientSecret) String() string {
	return RedactedClientSecret
}

// MarshalJSON will redact the client secret
func (t ClientSecret) MarshalJSON() ([]byte, error) {
	return json.Marshal(RedactedClientSecret)
}

// DefaultClockSkew is the default leeway when validating id_token time claims.
const DefaultClockSkew = jwt.DefaultClockSkew

// Config is the client configuration for one relying party. It is immutable
// for the duration of an authorization attempt.
type Config struct {
	// ClientId is the relying party id
	ClientId string

	// ClientSecret is the relying party secret. Public clients leave it
	// empty and send client_id in the request body instead of using HTTP
	// Basic authentication.
	ClientSecret ClientSecret

	// RedirectUrl is where the provider sends the browser after the user
	// authenticates. Not used by PasswordFlow.
	RedirectUrl string

	// Scopes is the ordered set of scopes to request. "openid" is always
	// requested, even when absent from this list.
	Scopes []string

	// Flow selects how tokens are obtained.
	Flow Flow

	// Realm is an optional provider specific partition. It is sent as a
	// "realm" query parameter on the authorization and token endpoints.
	Realm string

	// Issuer is used for discovery of any endpoint not set explicitly.
	Issuer string

	// AuthURL is the authorization endpoint.
	AuthURL string

	// TokenURL is the token endpoint.
	TokenURL string

	// JWKSURL, when set, enables id_token signature verification against
	// the provider's published keys.
	JWKSURL string

	// SigningKeys are optional PEM encoded public keys used to verify
	// id_token signatures. They take precedence over JWKSURL.
	SigningKeys []string

	// ClockSkew is the leeway applied to id_token exp and nbf claims.
	ClockSkew time.Duration

	// ProviderCA is an optional CA cert to use when sending requests to the provider.
	ProviderCA string

	// UILocales is an optional list of preferred languages for the
	// provider's login pages.
	UILocales []language.Tag
}

// NewConfig composes a new config for a client.
//
// Supported options:
//	WithScopes
//	WithRealm
//	WithIssuer
//	WithEndpoints
//	WithJWKSURL
//	WithSigningKeys
//	WithClockSkew
//	WithProviderCA
//	WithUILocales
func NewConfig(clientId string, clientSecret ClientSecret, redirectUrl string, flow Flow, opt ...Option) (*Config, error) {
	const op = "oidc.NewConfig"
	opts := getConfigOpts(opt...)
	c := &Config{
		ClientId:     clientId,
		ClientSecret: clientSecret,
		RedirectUrl:  redirectUrl,
		Scopes:       opts.withScopes,
		Flow:         flow,
		Realm:        opts.withRealm,
		Issuer:       opts.withIssuer,
		AuthURL:      opts.withAuthURL,
		TokenURL:     opts.withTokenURL,
		JWKSURL:      opts.withJWKSURL,
		SigningKeys:  opts.withSigningKeys,
		ClockSkew:    opts.withClockSkew,
		ProviderCA:   opts.withProviderCA,
		UILocales:    opts.withUILocales,
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: invalid provider config: %w", op, err)
	}
	return c, nil
}

// Validate the configuration. Every problem found is reported, not just the
// first. It doesn't verify the Issuer is discoverable via an http request.
func (c *Config) Validate() error {
	const op = "Config.Validate"
	if c == nil {
		return fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	var result *multierror.Error
	invalid := func(format string, a ...interface{}) {
		result = multierror.Append(result, fmt.Errorf(format+": %w", append(a, ErrInvalidParameter)...))
	}

	if c.ClientId == "" {
		invalid("client id is empty")
	}
	if !c.Flow.Valid() {
		result = multierror.Append(result, fmt.Errorf("flow %q: %w", c.Flow, ErrUnsupportedFlow))
	}
	if c.Flow != PasswordFlow {
		switch {
		case c.RedirectUrl == "":
			invalid("redirect URL is empty")
		default:
			if _, err := url.Parse(c.RedirectUrl); err != nil {
				invalid("redirect URL %q is invalid", c.RedirectUrl)
			}
		}
		if c.AuthURL == "" && c.Issuer == "" {
			invalid("either an authorization endpoint or an issuer is required")
		}
	}
	if c.TokenURL == "" && c.Issuer == "" && c.Flow != ImplicitFlow {
		invalid("either a token endpoint or an issuer is required")
	}
	endpoints := []struct{ name, raw string }{
		{"issuer", c.Issuer},
		{"authorization endpoint", c.AuthURL},
		{"token endpoint", c.TokenURL},
		{"jwks url", c.JWKSURL},
	}
	for _, e := range endpoints {
		if e.raw == "" {
			continue
		}
		u, err := url.Parse(e.raw)
		if err != nil || !strutils.StrListContains([]string{"https", "http"}, u.Scheme) {
			invalid("%s %q is not an http or https url", e.name, e.raw)
		}
	}
	if c.ClockSkew < 0 {
		invalid("clock skew is negative")
	}
	for _, k := range c.SigningKeys {
		if _, err := jwt.ParsePublicKeyPEM([]byte(k)); err != nil {
			invalid("signing key is not a valid public key PEM")
			break
		}
	}
	if c.ProviderCA != "" {
		if _, err := c.HttpClient(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RequestedScopes returns the scopes to send: "openid" first, then the
// configured scopes with duplicates removed.
func (c *Config) RequestedScopes() []string {
	return strutils.RemoveDuplicatesStable(append([]string{oidc.ScopeOpenID}, c.Scopes...), false)
}

// OfflineAccess reports whether the offline_access scope is requested.
func (c *Config) OfflineAccess() bool {
	return strutils.StrListContains(c.Scopes, oidc.ScopeOfflineAccess)
}

// SkewOrDefault returns ClockSkew, or DefaultClockSkew when it is unset.
func (c *Config) SkewOrDefault() time.Duration {
	if c.ClockSkew == 0 {
		return DefaultClockSkew
	}
	return c.ClockSkew
}

// Clone returns a deep copy of c.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Scopes = append([]string(nil), c.Scopes...)
	cp.SigningKeys = append([]string(nil), c.SigningKeys...)
	cp.UILocales = append([]language.Tag(nil), c.UILocales...)
	return &cp
}

// uiLocales returns the ui_locales parameter value.
func (c *Config) uiLocales() string {
	tags := make([]string, 0, len(c.UILocales))
	for _, t := range c.UILocales {
		tags = append(tags, t.String())
	}
	return strings.Join(tags, " ")
}

// HttpClient is a helper function that creates a new http client for the
// provider configured
func (c *Config) HttpClient() (*http.Client, error) {
	const op = "Config.HttpClient"
	client, err := sdkHttp.NewClient(c.ProviderCA)
	if err != nil {
		if errors.Is(err, sdkHttp.ErrInvalidCertificatePem) {
			return nil, fmt.Errorf("%s: could not parse CA PEM value: %w", op, ErrInvalidCACert)
		}
		return nil, fmt.Errorf("%s: could not get an http client: %w", op, err)
	}
	return client, nil
}

// HttpClientContext is a helper function that returns a new Context that
// carries the provided HTTP client. This method sets the same context key used
// by the github.com/coreos/go-oidc and golang.org/x/oauth2 packages, so the
// returned context works for those packages as well.
func HttpClientContext(ctx context.Context, client *http.Client) context.Context {
	return oidc.ClientContext(ctx, client)
}

// configOptions is the set of available options
type configOptions struct {
	withScopes      []string
	withRealm       string
	withIssuer      string
	withAuthURL     string
	withTokenURL    string
	withJWKSURL     string
	withSigningKeys []string
	withClockSkew   time.Duration
	withProviderCA  string
	withUILocales   []language.Tag
}

// configDefaults is a handy way to get the defaults at runtime and
// during unit tests.
func configDefaults() configOptions {
	return configOptions{
		withClockSkew: DefaultClockSkew,
	}
}

// getConfigOpts gets the defaults and applies the opt overrides passed
// in.
func getConfigOpts(opt ...Option) configOptions {
	opts := configDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithScopes provides an optional list of scopes for the config
func WithScopes(scopes ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withScopes = scopes
		}
	}
}

// WithRealm provides an optional realm for the config
func WithRealm(realm string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withRealm = realm
		}
	}
}

// WithIssuer provides an optional issuer used to discover endpoints
func WithIssuer(issuer string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withIssuer = issuer
		}
	}
}

// WithEndpoints provides explicit authorization and token endpoints
func WithEndpoints(authURL, tokenURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withAuthURL = authURL
			o.withTokenURL = tokenURL
		}
	}
}

// WithJWKSURL provides an optional JWKS url for id_token signature
// verification
func WithJWKSURL(jwksURL string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withJWKSURL = jwksURL
		}
	}
}

// WithSigningKeys provides optional PEM encoded public keys for id_token
// signature verification
func WithSigningKeys(pems ...string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withSigningKeys = pems
		}
	}
}

// WithClockSkew overrides DefaultClockSkew for id_token validation
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withClockSkew = d
		}
	}
}

// WithProviderCA provides an optional CA cert for the provider's config
func WithProviderCA(cert string) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withProviderCA = cert
		}
	}
}

// WithUILocales provides optional preferred languages for the provider's
// login pages
func WithUILocales(tags ...language.Tag) Option {
	return func(o interface{}) {
		if o, ok := o.(*configOptions); ok {
			o.withUILocales = tags
		}
	}
}
