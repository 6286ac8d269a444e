package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/oauth2"

	"github.com/openaccounts/oidcaccount/jwt"
)

// grant types sent to the token endpoint
const (
	grantAuthorizationCode = "authorization_code"
	grantRefreshToken      = "refresh_token"
	grantPassword          = "password"
)

// errorInvalidGrant is the token endpoint error for a dead refresh token.
const errorInvalidGrant = "invalid_grant"

// Client performs token exchanges against a provider's token endpoint and
// validates the resulting id_tokens. A Client is safe for concurrent use and
// serves any number of Configs; discovery documents, JWKS key sets and HTTP
// clients are cached per issuer, url and CA respectively.
//
// See Client.Done() which must be called to release client resources.
type Client struct {
	logger hclog.Logger
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	httpClients map[string]*http.Client
	keySets     map[string]jwt.KeySet
	discovered  map[string]*discovery

	// backgroundCtx is the context used for background activities like
	// refreshing JWKS key sets.
	backgroundCtx context.Context

	// backgroundCtxCancel is used to cancel any background activities.
	backgroundCtxCancel context.CancelFunc
}

type discovery struct {
	authURL  string
	tokenURL string
	jwksURL  string
}

// NewClient creates a Client.
//
// Supported options: WithLogger, WithHTTPClient, WithNow
func NewClient(opt ...Option) *Client {
	opts := getClientOpts(opt...)
	c := &Client{
		logger:      opts.withLogger,
		client:      opts.withHTTPClient,
		now:         opts.withNowFunc,
		httpClients: map[string]*http.Client{},
		keySets:     map[string]jwt.KeySet{},
		discovered:  map[string]*discovery{},
	}
	c.backgroundCtx, c.backgroundCtxCancel = context.WithCancel(context.Background())
	return c
}

// Done with the client's background resources and must be called for every
// Client created
func (c *Client) Done() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.backgroundCtxCancel != nil {
		c.backgroundCtxCancel()
		c.backgroundCtxCancel = nil
	}
}

// Discover returns a copy of cfg with any missing authorization, token or
// JWKS endpoint filled in from the issuer's discovery document. cfg is
// returned unchanged (as a copy) when it has no Issuer.
func (c *Client) Discover(ctx context.Context, cfg *Config) (*Config, error) {
	const op = "Client.Discover"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	out := cfg.Clone()
	if cfg.Issuer == "" {
		return out, nil
	}
	d, err := c.discover(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if out.AuthURL == "" {
		out.AuthURL = d.authURL
	}
	if out.TokenURL == "" {
		out.TokenURL = d.tokenURL
	}
	if out.JWKSURL == "" && len(out.SigningKeys) == 0 {
		out.JWKSURL = d.jwksURL
	}
	return out, nil
}

func (c *Client) discover(ctx context.Context, cfg *Config) (*discovery, error) {
	c.mu.Lock()
	d, ok := c.discovered[cfg.Issuer]
	c.mu.Unlock()
	if ok {
		return d, nil
	}

	client, err := c.httpClient(cfg)
	if err != nil {
		return nil, err
	}
	p, err := oidc.NewProvider(HttpClientContext(ctx, client), cfg.Issuer) // makes http req to issuer for discovery
	if err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrDiscoveryFailed)
	}
	var claims struct {
		JWKSURL string `json:"jwks_uri"`
	}
	if err := p.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%s: %w", err.Error(), ErrDiscoveryFailed)
	}
	d = &discovery{
		authURL:  p.Endpoint().AuthURL,
		tokenURL: p.Endpoint().TokenURL,
		jwksURL:  claims.JWKSURL,
	}
	c.logger.Debug("discovered provider", "issuer", cfg.Issuer, "token_endpoint", d.tokenURL)

	c.mu.Lock()
	c.discovered[cfg.Issuer] = d
	c.mu.Unlock()
	return d, nil
}

// resolve fills in endpoints that the config omits but needs for the
// current operation.
func (c *Client) resolve(ctx context.Context, cfg *Config) (*Config, error) {
	if cfg.Issuer == "" {
		return cfg, nil
	}
	if cfg.TokenURL != "" && (cfg.JWKSURL != "" || len(cfg.SigningKeys) > 0) {
		return cfg, nil
	}
	return c.Discover(ctx, cfg)
}

// ExchangeAuthorizationCode exchanges an authorization code for tokens. Any
// returned id_token is validated; when WithNonce is given its nonce claim
// must match.
//
// Supported options: WithNonce
func (c *Client) ExchangeAuthorizationCode(ctx context.Context, cfg *Config, code string, opt ...Option) (*TokenSet, error) {
	const op = "Client.ExchangeAuthorizationCode"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case code == "":
		return nil, fmt.Errorf("%s: authorization code is empty: %w", op, ErrInvalidParameter)
	case cfg.RedirectUrl == "":
		return nil, fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}
	opts := getExchangeOpts(opt...)
	ts, err := c.exchange(ctx, cfg, grantAuthorizationCode, opts, func(ctx context.Context, oc *oauth2.Config) (*oauth2.Token, error) {
		return oc.Exchange(ctx, code)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// ExchangeRefreshToken redeems a refresh token. The config's scopes are sent
// with the request. A 400 response whose body mentions invalid_grant returns
// ErrRefreshRejected; any other HTTP error returns ErrNetworkFailure. When the
// response carries no refresh_token the one presented is kept in the returned
// set.
func (c *Client) ExchangeRefreshToken(ctx context.Context, cfg *Config, refreshToken RefreshToken) (*TokenSet, error) {
	const op = "Client.ExchangeRefreshToken"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case refreshToken == "":
		return nil, fmt.Errorf("%s: refresh token is empty: %w", op, ErrInvalidParameter)
	}
	ts, err := c.exchange(ctx, cfg, grantRefreshToken, getExchangeOpts(), func(ctx context.Context, oc *oauth2.Config) (*oauth2.Token, error) {
		// the redirect uri is only sent with the code grant
		oc.RedirectURL = ""
		if len(oc.Scopes) > 0 {
			ctx = withFormParams(ctx, url.Values{"scope": {strings.Join(oc.Scopes, " ")}})
		}
		return oc.TokenSource(ctx, &oauth2.Token{RefreshToken: string(refreshToken)}).Token()
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if ts.RefreshToken == "" {
		ts.RefreshToken = refreshToken
	}
	return ts, nil
}

// ExchangePasswordGrant uses the resource owner password credentials grant.
// The username and password are sent once and never kept.
func (c *Client) ExchangePasswordGrant(ctx context.Context, cfg *Config, username, password string) (*TokenSet, error) {
	const op = "Client.ExchangePasswordGrant"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case username == "":
		return nil, fmt.Errorf("%s: username is empty: %w", op, ErrInvalidParameter)
	case password == "":
		return nil, fmt.Errorf("%s: password is empty: %w", op, ErrInvalidParameter)
	}
	ts, err := c.exchange(ctx, cfg, grantPassword, getExchangeOpts(), func(ctx context.Context, oc *oauth2.Config) (*oauth2.Token, error) {
		return oc.PasswordCredentialsToken(ctx, username, password)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ts, nil
}

// FinishAuthorization completes an interactive authorization from the
// redirect url. The redirect's state must equal s.ID() and s must not be
// expired. Implicit results are validated locally; code and hybrid results
// are exchanged at the token endpoint. A user who declined returns
// ErrCancelled.
func (c *Client) FinishAuthorization(ctx context.Context, cfg *Config, s State, redirectURL string) (*TokenSet, error) {
	const op = "Client.FinishAuthorization"
	switch {
	case cfg == nil:
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case s == nil:
		return nil, fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	}
	r, err := ParseRedirect(cfg, redirectURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.IsExpired() {
		return nil, fmt.Errorf("%s: authentication state has expired: %w", op, ErrExpiredState)
	}
	if r.State != s.ID() {
		return nil, fmt.Errorf("%s: authentication state and response state are not equal: %w", op, ErrResponseStateInvalid)
	}

	switch cfg.Flow {
	case ImplicitFlow:
		ts := r.TokenSet(WithNow(c.now))
		if _, err := c.ValidateIdToken(ctx, cfg, ts.IdToken, WithNonce(s.Nonce())); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ts, nil
	case HybridFlow:
		if _, err := c.ValidateIdToken(ctx, cfg, r.IdToken, WithNonce(s.Nonce())); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		ts, err := c.ExchangeAuthorizationCode(ctx, cfg, r.Code, WithNonce(s.Nonce()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if ts.IdToken == "" {
			ts.IdToken = r.IdToken
		}
		return ts, nil
	default:
		ts, err := c.ExchangeAuthorizationCode(ctx, cfg, r.Code, WithNonce(s.Nonce()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return ts, nil
	}
}

// ValidateIdToken checks the id_token's audience contains the config's
// ClientId and that it is not expired within the config's clock skew. The
// signature is verified when the config has SigningKeys or a JWKSURL. Every
// failure wraps ErrInvalidIdToken.
//
// Supported options: WithNonce
func (c *Client) ValidateIdToken(ctx context.Context, cfg *Config, t IdToken, opt ...Option) (*jwt.Claims, error) {
	const op = "Client.ValidateIdToken"
	if cfg == nil {
		return nil, fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	}
	if t == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrMissingIdToken)
	}
	opts := getExchangeOpts(opt...)
	v, err := c.validator(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	claims, err := v.ValidateIdToken(ctx, cfg.ClientId, string(t))
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInvalidIdToken)
	}
	if opts.withNonce != "" && claims.Nonce != opts.withNonce {
		return nil, fmt.Errorf("%s: id_token nonce does not match: %w", op, ErrInvalidNonce)
	}
	return claims, nil
}

type exchangeFunc func(ctx context.Context, oc *oauth2.Config) (*oauth2.Token, error)

func (c *Client) exchange(ctx context.Context, cfg *Config, grant string, opts exchangeOptions, fn exchangeFunc) (*TokenSet, error) {
	cfg, err := c.resolve(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.TokenURL == "" {
		return nil, fmt.Errorf("token endpoint is not configured: %w", ErrInvalidParameter)
	}
	client, err := c.httpClient(cfg)
	if err != nil {
		return nil, err
	}

	authStyle := oauth2.AuthStyleInParams
	if cfg.ClientSecret != "" {
		authStyle = oauth2.AuthStyleInHeader
	}
	oc := &oauth2.Config{
		ClientID:     cfg.ClientId,
		ClientSecret: string(cfg.ClientSecret),
		RedirectURL:  cfg.RedirectUrl,
		Scopes:       cfg.RequestedScopes(),
		Endpoint: oauth2.Endpoint{
			AuthURL:   cfg.AuthURL,
			TokenURL:  withRealm(cfg.TokenURL, cfg.Realm),
			AuthStyle: authStyle,
		},
	}

	c.logger.Debug("requesting tokens", "grant_type", grant, "client_id", cfg.ClientId)
	tk, err := fn(HttpClientContext(ctx, client), oc)
	if err != nil {
		err = classifyTokenError(grant, err)
		c.logger.Warn("token request failed", "grant_type", grant, "client_id", cfg.ClientId, "error", err)
		return nil, err
	}

	ts := &TokenSet{
		AccessToken:  AccessToken(tk.AccessToken),
		RefreshToken: RefreshToken(tk.RefreshToken),
		TokenType:    tk.TokenType,
		Expiry:       tk.Expiry,
	}
	if id, ok := tk.Extra("id_token").(string); ok {
		ts.IdToken = IdToken(id)
	}
	if scope, ok := tk.Extra("scope").(string); ok {
		ts.Scope = scope
	}
	if err := ts.Validate(); err != nil {
		return nil, err
	}
	if ts.IdToken != "" {
		var vOpts []Option
		if opts.withNonce != "" {
			vOpts = append(vOpts, WithNonce(opts.withNonce))
		}
		if _, err := c.ValidateIdToken(ctx, cfg, ts.IdToken, vOpts...); err != nil {
			return nil, err
		}
	}
	return ts, nil
}

// classifyTokenError maps oauth2 errors onto the token error taxonomy.
func classifyTokenError(grant string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		te := &TokenError{Kind: ErrNetworkFailure}
		if re.Response != nil {
			te.StatusCode = re.Response.StatusCode
		}
		te.ErrorCode, te.Description = parseErrorBody(re.Body)
		if grant == grantRefreshToken && te.StatusCode == http.StatusBadRequest && strings.Contains(string(re.Body), errorInvalidGrant) {
			te.Kind = ErrRefreshRejected
		}
		return te
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "missing access_token"), strings.Contains(msg, "cannot parse"):
		return fmt.Errorf("%s: %w", msg, ErrInvalidResponse)
	default:
		return fmt.Errorf("%s: %w", msg, ErrNetworkFailure)
	}
}

// parseErrorBody extracts error and error_description from a JSON or form
// encoded token endpoint error body.
func parseErrorBody(body []byte) (code, description string) {
	var e struct {
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &e); err == nil {
		return e.Error, e.Description
	}
	if v, err := url.ParseQuery(string(body)); err == nil {
		return v.Get("error"), v.Get("error_description")
	}
	return "", ""
}

// withFormParams returns a context whose HTTP client adds params to url
// encoded POST bodies that do not already carry them. oauth2 builds the
// refresh_token request body itself and has no way to add parameters.
func withFormParams(ctx context.Context, params url.Values) context.Context {
	c := &http.Client{}
	if base, ok := ctx.Value(oauth2.HTTPClient).(*http.Client); ok && base != nil {
		*c = *base
	}
	rt := c.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c.Transport = &formParamsTransport{base: rt, params: params}
	return HttpClientContext(ctx, c)
}

type formParamsTransport struct {
	base   http.RoundTripper
	params url.Values
}

// RoundTrip implements http.RoundTripper.
func (t *formParamsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodPost || req.Body == nil ||
		!strings.HasPrefix(req.Header.Get("Content-Type"), "application/x-www-form-urlencoded") {
		return t.base.RoundTrip(req)
	}
	b, err := io.ReadAll(req.Body)
	req.Body.Close()
	if err != nil {
		return nil, err
	}
	form, err := url.ParseQuery(string(b))
	if err != nil {
		return nil, err
	}
	for k, v := range t.params {
		if form.Get(k) == "" {
			form[k] = v
		}
	}
	body := form.Encode()
	r := req.Clone(req.Context())
	r.Body = io.NopCloser(strings.NewReader(body))
	r.ContentLength = int64(len(body))
	r.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(body)), nil
	}
	return t.base.RoundTrip(r)
}

// withRealm adds the realm query parameter to endpoint.
func withRealm(endpoint, realm string) string {
	if realm == "" {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("realm", realm)
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) httpClient(cfg *Config) (*http.Client, error) {
	if c.client != nil {
		return c.client, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if hc, ok := c.httpClients[cfg.ProviderCA]; ok {
		return hc, nil
	}
	hc, err := cfg.HttpClient()
	if err != nil {
		return nil, err
	}
	c.httpClients[cfg.ProviderCA] = hc
	return hc, nil
}

func (c *Client) validator(cfg *Config) (*jwt.Validator, error) {
	var ks jwt.KeySet
	switch {
	case len(cfg.SigningKeys) > 0:
		var err error
		if ks, err = jwt.NewStaticKeySetFromPEM(cfg.SigningKeys); err != nil {
			return nil, err
		}
	case cfg.JWKSURL != "":
		var err error
		if ks, err = c.remoteKeySet(cfg); err != nil {
			return nil, err
		}
	}
	return jwt.NewValidator(ks,
		jwt.WithClockSkew(cfg.SkewOrDefault()),
		jwt.WithNow(c.now),
		jwt.WithIssuer(cfg.Issuer),
	)
}

func (c *Client) remoteKeySet(cfg *Config) (jwt.KeySet, error) {
	client, err := c.httpClient(cfg)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ks, ok := c.keySets[cfg.JWKSURL]; ok {
		return ks, nil
	}
	ks, err := jwt.NewJSONWebKeySet(HttpClientContext(c.backgroundCtx, client), cfg.JWKSURL, "")
	if err != nil {
		return nil, err
	}
	c.keySets[cfg.JWKSURL] = ks
	return ks, nil
}

// clientOptions is the set of available options for Client functions
type clientOptions struct {
	withLogger     hclog.Logger
	withHTTPClient *http.Client
	withNowFunc    func() time.Time
}

// clientDefaults is a handy way to get the defaults at runtime and during unit
// tests.
func clientDefaults() clientOptions {
	return clientOptions{
		withLogger:  hclog.NewNullLogger(),
		withNowFunc: time.Now,
	}
}

// getClientOpts gets the client defaults and applies the opt overrides passed
// in
func getClientOpts(opt ...Option) clientOptions {
	opts := clientDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

// WithHTTPClient provides an http.Client used for every provider request,
// overriding the per config client built from Config.ProviderCA.
func WithHTTPClient(c *http.Client) Option {
	return func(o interface{}) {
		if v, ok := o.(*clientOptions); ok && c != nil {
			v.withHTTPClient = c
		}
	}
}

// exchangeOptions is the set of available options for token exchanges
type exchangeOptions struct {
	withNonce string
}

func getExchangeOpts(opt ...Option) exchangeOptions {
	opts := exchangeOptions{}
	ApplyOpts(&opts, opt...)
	return opts
}
