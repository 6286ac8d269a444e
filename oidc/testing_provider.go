package oidc

import (
	"bytes"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/square/go-jose.v2"
	josejwt "gopkg.in/square/go-jose.v2/jwt"

	"github.com/openaccounts/oidcaccount/oidc/internal/strutils"
)

// TestProvider is a local TLS server that plays the part of an OIDC provider
// so flows can be exercised end to end in tests. It serves discovery, a JWKS,
// an authorization endpoint that redirects immediately, a token endpoint for
// the authorization_code, refresh_token and password grants, and a protected
// resource that accepts the access tokens it issued.
type TestProvider struct {
	httpServer *httptest.Server
	caCert     string

	jwks            *jose.JSONWebKeySet
	ecdsaPublicKey  string
	ecdsaPrivateKey string

	mu                  sync.Mutex
	clientID            string
	clientSecret        string
	allowedRedirectURIs []string
	replySubject        string
	customClaims        map[string]interface{}
	customAudience      string
	omitIDToken         bool
	omitAccessToken     bool
	omitRefreshToken    bool
	rotateRefreshTokens bool
	rejectRefreshTokens bool
	denyAuthorization   bool
	tokenFailureStatus  int
	idTokenTTL          time.Duration
	expiresIn           int
	username            string
	password            string

	codes          map[string]testCodeGrant
	refreshTokens  map[string]bool
	accessTokens   map[string]bool
	grantCounts    map[string]int
	lastRealm      string
	lastClientAuth string

	t *testing.T
}

type testCodeGrant struct {
	nonce       string
	redirectURI string
}

// StartTestProvider creates a disposable TestProvider. It is stopped when the
// test completes.
func StartTestProvider(t *testing.T) *TestProvider {
	t.Helper()
	require := require.New(t)

	p := &TestProvider{
		t:                   t,
		clientID:            "test-client-id",
		allowedRedirectURIs: []string{"https://example.com/callback"},
		replySubject:        "alice@example.com",
		customClaims: map[string]interface{}{
			"given_name": "Alice",
		},
		idTokenTTL:    time.Minute,
		expiresIn:     3600,
		codes:         map[string]testCodeGrant{},
		refreshTokens: map[string]bool{},
		accessTokens:  map[string]bool{},
		grantCounts:   map[string]int{},
	}
	p.ecdsaPublicKey, p.ecdsaPrivateKey = TestGenerateKeys(t)
	p.jwks = testJWKS(t, p.ecdsaPublicKey)

	p.httpServer = httptest.NewUnstartedServer(p)
	p.httpServer.Config.ErrorLog = log.New(io.Discard, "", 0)
	p.httpServer.StartTLS()
	t.Cleanup(p.httpServer.Close)

	cert := p.httpServer.Certificate()
	var buf bytes.Buffer
	err := pem.Encode(&buf, &pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
	require.NoError(err)
	p.caCert = buf.String()

	return p
}

// Stop stops the running TestProvider.
func (p *TestProvider) Stop() {
	p.httpServer.Close()
}

// Addr returns the base URL of the provider, which is also its issuer.
func (p *TestProvider) Addr() string { return p.httpServer.URL }

// AuthURL returns the authorization endpoint.
func (p *TestProvider) AuthURL() string { return p.Addr() + "/authorize" }

// TokenURL returns the token endpoint.
func (p *TestProvider) TokenURL() string { return p.Addr() + "/token" }

// JWKSURL returns the key set endpoint.
func (p *TestProvider) JWKSURL() string { return p.Addr() + "/certs" }

// ResourceURL returns a protected resource that answers 200 to a bearer
// access token issued by the provider and 401 otherwise.
func (p *TestProvider) ResourceURL() string { return p.Addr() + "/resource" }

// CACert returns the pem-encoded CA certificate used by the test provider's
// HTTPS server.
func (p *TestProvider) CACert() string { return p.caCert }

// HTTPClient returns an http client that trusts the provider's certificate.
func (p *TestProvider) HTTPClient() *http.Client { return p.httpServer.Client() }

// SigningKeys returns the test provider's pem-encoded keys used to sign JWTs.
func (p *TestProvider) SigningKeys() (pub, priv string) {
	return p.ecdsaPublicKey, p.ecdsaPrivateKey
}

// ClientID returns the client id the provider accepts.
func (p *TestProvider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clientID
}

// SetClientCreds configures the client the provider accepts. An empty secret
// makes it a public client that must send client_id in the request body.
func (p *TestProvider) SetClientCreds(clientID, clientSecret string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.clientID = clientID
	p.clientSecret = clientSecret
}

// SetAllowedRedirectURIs configures the allowed redirect URIs.
func (p *TestProvider) SetAllowedRedirectURIs(uris ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.allowedRedirectURIs = uris
}

// SetSubject configures the sub claim of issued id_tokens.
func (p *TestProvider) SetSubject(sub string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replySubject = sub
}

// SetCustomClaims replaces the extra claims of issued id_tokens.
func (p *TestProvider) SetCustomClaims(customClaims map[string]interface{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customClaims = customClaims
}

// SetCustomAudience configures what audience value to embed in issued
// id_tokens.
func (p *TestProvider) SetCustomAudience(customAudience string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customAudience = customAudience
}

// SetIDTokenTTL configures the lifetime of issued id_tokens. A negative
// value issues already expired tokens.
func (p *TestProvider) SetIDTokenTTL(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idTokenTTL = d
}

// SetExpiresIn configures the expires_in of token responses.
func (p *TestProvider) SetExpiresIn(seconds int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.expiresIn = seconds
}

// SetUser configures the credentials accepted by the password grant.
func (p *TestProvider) SetUser(username, password string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.username = username
	p.password = password
}

// OmitIDTokens makes the token endpoint leave out id_token.
func (p *TestProvider) OmitIDTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitIDToken = omit
}

// OmitAccessTokens makes the token endpoint leave out access_token.
func (p *TestProvider) OmitAccessTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitAccessToken = omit
}

// OmitRefreshTokens makes the token endpoint leave out refresh_token.
func (p *TestProvider) OmitRefreshTokens(omit bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.omitRefreshToken = omit
}

// RotateRefreshTokens makes the refresh_token grant issue a new refresh
// token and revoke the presented one. By default the presented token stays
// valid and none is returned.
func (p *TestProvider) RotateRefreshTokens(rotate bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rotateRefreshTokens = rotate
}

// RejectRefreshTokens makes every refresh_token grant fail with
// invalid_grant.
func (p *TestProvider) RejectRefreshTokens(reject bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rejectRefreshTokens = reject
}

// DenyAuthorization makes the authorization endpoint redirect with
// error=access_denied, as if the user declined.
func (p *TestProvider) DenyAuthorization(deny bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.denyAuthorization = deny
}

// SetTokenFailure makes the token endpoint answer every request with the
// given status. Zero restores normal behavior.
func (p *TestProvider) SetTokenFailure(status int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.tokenFailureStatus = status
}

// ExpireAccessTokens revokes every access token issued so far, so the
// protected resource answers 401.
func (p *TestProvider) ExpireAccessTokens() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.accessTokens = map[string]bool{}
}

// IssueRefreshToken returns a new refresh token the provider will accept.
func (p *TestProvider) IssueRefreshToken() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.newRefreshToken()
}

// IssueIDToken returns a signed id_token for the configured client, subject
// and claims.
func (p *TestProvider) IssueIDToken(nonce string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.idToken(nonce)
}

// GrantCount returns how many token requests of grantType were received.
func (p *TestProvider) GrantCount(grantType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.grantCounts[grantType]
}

// LastRealm returns the realm query parameter of the last token request.
func (p *TestProvider) LastRealm() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastRealm
}

// LastClientAuth returns how the client authenticated on the last token
// request: "basic" or "body".
func (p *TestProvider) LastClientAuth() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastClientAuth
}

// Authorize performs the browser leg of an interactive flow: it requests
// authURL and returns the redirect location the provider answered with.
func (p *TestProvider) Authorize(t *testing.T, authURL string) string {
	t.Helper()
	require := require.New(t)
	client := *p.HTTPClient()
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	resp, err := client.Get(authURL)
	require.NoError(err)
	defer resp.Body.Close()
	require.Equal(http.StatusFound, resp.StatusCode)
	return resp.Header.Get("Location")
}

func (p *TestProvider) writeJSON(w http.ResponseWriter, out interface{}) error {
	enc := json.NewEncoder(w)
	return enc.Encode(out)
}

func (p *TestProvider) writeAuthErrorResponse(w http.ResponseWriter, req *http.Request, errorCode, errorMessage string) {
	qv := req.URL.Query()

	redirectURI := qv.Get("redirect_uri") +
		"?state=" + url.QueryEscape(qv.Get("state")) +
		"&error=" + url.QueryEscape(errorCode)

	if errorMessage != "" {
		redirectURI += "&error_description=" + url.QueryEscape(errorMessage)
	}

	http.Redirect(w, req, redirectURI, http.StatusFound)
}

func (p *TestProvider) writeTokenErrorResponse(w http.ResponseWriter, statusCode int, errorCode, errorMessage string) error {
	body := struct {
		Code string `json:"error"`
		Desc string `json:"error_description,omitempty"`
	}{
		Code: errorCode,
		Desc: errorMessage,
	}

	w.WriteHeader(statusCode)
	return p.writeJSON(w, &body)
}

// ServeHTTP implements the test provider's http.Handler.
func (p *TestProvider) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.t.Helper()

	w.Header().Set("Content-Type", "application/json")

	switch req.URL.Path {
	case "/.well-known/openid-configuration":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		reply := struct {
			Issuer        string   `json:"issuer"`
			AuthEndpoint  string   `json:"authorization_endpoint"`
			TokenEndpoint string   `json:"token_endpoint"`
			JWKSURI       string   `json:"jwks_uri"`
			Algs          []string `json:"id_token_signing_alg_values_supported"`
		}{
			Issuer:        p.Addr(),
			AuthEndpoint:  p.AuthURL(),
			TokenEndpoint: p.TokenURL(),
			JWKSURI:       p.JWKSURL(),
			Algs:          []string{string(jose.ES256)},
		}
		_ = p.writeJSON(w, &reply)

	case "/authorize":
		p.handleAuthorize(w, req)

	case "/certs":
		if req.Method != "GET" {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		_ = p.writeJSON(w, p.jwks)

	case "/token":
		p.handleToken(w, req)

	case "/resource":
		const prefix = "Bearer "
		h := req.Header.Get("Authorization")
		if !strings.HasPrefix(h, prefix) || !p.accessTokens[strings.TrimPrefix(h, prefix)] {
			w.WriteHeader(http.StatusUnauthorized)
			_ = p.writeJSON(w, map[string]string{"error": "invalid_token"})
			return
		}
		_ = p.writeJSON(w, map[string]string{"sub": p.replySubject})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (p *TestProvider) handleAuthorize(w http.ResponseWriter, req *http.Request) {
	if req.Method != "GET" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	qv := req.URL.Query()
	redirectURI := qv.Get("redirect_uri")
	switch {
	case redirectURI == "" || !strutils.StrListContains(p.allowedRedirectURIs, redirectURI):
		w.WriteHeader(http.StatusBadRequest)
		return
	case qv.Get("client_id") != p.clientID:
		p.writeAuthErrorResponse(w, req, "unauthorized_client", "unknown client_id")
		return
	case qv.Get("state") == "":
		p.writeAuthErrorResponse(w, req, "invalid_request", "missing state parameter")
		return
	case !strutils.StrListContains(strings.Fields(qv.Get("scope")), "openid"):
		p.writeAuthErrorResponse(w, req, "invalid_scope", "")
		return
	case p.denyAuthorization:
		p.writeAuthErrorResponse(w, req, "access_denied", "the user declined")
		return
	}

	nonce := qv.Get("nonce")
	reply := url.Values{"state": {qv.Get("state")}}
	var fragment bool
	switch qv.Get("response_type") {
	case "code":
		reply.Set("code", p.newCode(nonce, redirectURI))
	case "id_token token":
		fragment = true
		reply.Set("access_token", p.newAccessToken())
		reply.Set("id_token", p.idToken(nonce))
		reply.Set("token_type", "Bearer")
		reply.Set("expires_in", strconv.Itoa(p.expiresIn))
		reply.Set("scope", qv.Get("scope"))
	case "code id_token":
		fragment = true
		reply.Set("code", p.newCode(nonce, redirectURI))
		reply.Set("id_token", p.idToken(nonce))
	default:
		p.writeAuthErrorResponse(w, req, "unsupported_response_type", "")
		return
	}
	sep := "?"
	if fragment {
		sep = "#"
	}
	http.Redirect(w, req, redirectURI+sep+reply.Encode(), http.StatusFound)
}

func (p *TestProvider) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != "POST" {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := req.ParseForm(); err != nil {
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_request", "bad form")
		return
	}
	grantType := req.PostForm.Get("grant_type")
	p.grantCounts[grantType]++
	p.lastRealm = req.URL.Query().Get("realm")

	if p.tokenFailureStatus != 0 {
		_ = p.writeTokenErrorResponse(w, p.tokenFailureStatus, "server_error", "forced failure")
		return
	}

	id, secret, basic := req.BasicAuth()
	if basic {
		p.lastClientAuth = "basic"
	} else {
		p.lastClientAuth = "body"
		id, secret = req.PostForm.Get("client_id"), req.PostForm.Get("client_secret")
	}
	if id != p.clientID || secret != p.clientSecret {
		_ = p.writeTokenErrorResponse(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
		return
	}

	var nonce string
	issueRefresh := !p.omitRefreshToken
	switch grantType {
	case "authorization_code":
		code := req.PostForm.Get("code")
		grant, ok := p.codes[code]
		if !ok {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "unexpected auth code")
			return
		}
		delete(p.codes, code)
		if req.PostForm.Get("redirect_uri") != grant.redirectURI {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "redirect_uri does not match")
			return
		}
		nonce = grant.nonce
	case "refresh_token":
		rt := req.PostForm.Get("refresh_token")
		if p.rejectRefreshTokens || !p.refreshTokens[rt] {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "refresh token is invalid or expired")
			return
		}
		issueRefresh = issueRefresh && p.rotateRefreshTokens
		if p.rotateRefreshTokens {
			delete(p.refreshTokens, rt)
		}
	case "password":
		if p.username == "" || req.PostForm.Get("username") != p.username || req.PostForm.Get("password") != p.password {
			_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "invalid_grant", "invalid resource owner credentials")
			return
		}
	default:
		_ = p.writeTokenErrorResponse(w, http.StatusBadRequest, "unsupported_grant_type", "bad grant_type")
		return
	}

	reply := struct {
		AccessToken  string `json:"access_token,omitempty"`
		IDToken      string `json:"id_token,omitempty"`
		RefreshToken string `json:"refresh_token,omitempty"`
		TokenType    string `json:"token_type"`
		ExpiresIn    int    `json:"expires_in,omitempty"`
		Scope        string `json:"scope,omitempty"`
	}{
		TokenType: "Bearer",
		ExpiresIn: p.expiresIn,
		Scope:     req.PostForm.Get("scope"),
	}
	if !p.omitAccessToken {
		reply.AccessToken = p.newAccessToken()
	}
	if !p.omitIDToken {
		reply.IDToken = p.idToken(nonce)
	}
	if issueRefresh {
		reply.RefreshToken = p.newRefreshToken()
	}
	_ = p.writeJSON(w, &reply)
}

// idToken must be called with p.mu held.
func (p *TestProvider) idToken(nonce string) string {
	now := time.Now()
	stdClaims := josejwt.Claims{
		Subject:   p.replySubject,
		Issuer:    p.Addr(),
		IssuedAt:  josejwt.NewNumericDate(now),
		NotBefore: josejwt.NewNumericDate(now.Add(-5 * time.Second)),
		Expiry:    josejwt.NewNumericDate(now.Add(p.idTokenTTL)),
		Audience:  josejwt.Audience{p.clientID},
	}
	if p.customAudience != "" {
		stdClaims.Audience = josejwt.Audience{p.customAudience}
	}
	privateClaims := map[string]interface{}{}
	for k, v := range p.customClaims {
		privateClaims[k] = v
	}
	if nonce != "" {
		privateClaims["nonce"] = nonce
	}
	return TestSignJWT(p.t, p.ecdsaPrivateKey, stdClaims, privateClaims)
}

// the token issuing helpers must be called with p.mu held.

func (p *TestProvider) newCode(nonce, redirectURI string) string {
	code := p.newID("code")
	p.codes[code] = testCodeGrant{nonce: nonce, redirectURI: redirectURI}
	return code
}

func (p *TestProvider) newAccessToken() string {
	at := p.newID("at")
	p.accessTokens[at] = true
	return at
}

func (p *TestProvider) newRefreshToken() string {
	rt := p.newID("rt")
	p.refreshTokens[rt] = true
	return rt
}

func (p *TestProvider) newID(prefix string) string {
	id, err := NewID(WithPrefix(prefix))
	require.NoError(p.t, err)
	return id
}

// testJWKS converts a pem-encoded public key into JWKS data suitable for a
// verification endpoint response
func testJWKS(t *testing.T, pubKey string) *jose.JSONWebKeySet {
	t.Helper()
	require := require.New(t)

	block, _ := pem.Decode([]byte(pubKey))
	require.NotNil(block)

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	require.NoError(err)

	return &jose.JSONWebKeySet{
		Keys: []jose.JSONWebKey{
			{
				Key:       pub,
				Algorithm: string(jose.ES256),
				Use:       "sig",
			},
		},
	}
}
