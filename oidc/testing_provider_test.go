package oidc

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_StartTestProvider(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)

	client := tp.HTTPClient()
	resp, err := client.Get(tp.Addr() + "/.well-known/openid-configuration")
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
	var disc map[string]interface{}
	require.NoError(json.NewDecoder(resp.Body).Decode(&disc))
	assert.Equal(tp.Addr(), disc["issuer"])
	assert.Equal(tp.TokenURL(), disc["token_endpoint"])

	resp, err = client.Get(tp.JWKSURL())
	require.NoError(err)
	defer resp.Body.Close()
	assert.Equal(http.StatusOK, resp.StatusCode)
}

func TestTestProvider_Resource(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	s, err := NewState(time.Minute)
	require.NoError(err)
	cfg := &Config{
		ClientId:    tp.ClientID(),
		RedirectUrl: testRedirect,
		Flow:        ImplicitFlow,
		AuthURL:     tp.AuthURL(),
	}
	authURL, err := AuthURL(cfg, s)
	require.NoError(err)
	redirect := tp.Authorize(t, authURL)
	ts, err := ParseImplicitFragment(strings.SplitN(redirect, "#", 2)[1])
	require.NoError(err)

	get := func(token string) int {
		req, err := http.NewRequest(http.MethodGet, tp.ResourceURL(), nil)
		require.NoError(err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := tp.HTTPClient().Do(req)
		require.NoError(err)
		defer resp.Body.Close()
		return resp.StatusCode
	}
	assert.Equal(http.StatusOK, get(string(ts.AccessToken)))
	assert.Equal(http.StatusUnauthorized, get("at_unknown"))
	tp.ExpireAccessTokens()
	assert.Equal(http.StatusUnauthorized, get(string(ts.AccessToken)))
}

func TestTestProvider_Authorize(t *testing.T) {
	t.Parallel()
	assert, require := assert.New(t), require.New(t)
	tp := StartTestProvider(t)
	s, err := NewState(time.Minute)
	require.NoError(err)
	cfg := &Config{
		ClientId:    tp.ClientID(),
		RedirectUrl: testRedirect,
		Flow:        CodeFlow,
		AuthURL:     tp.AuthURL(),
	}
	authURL, err := AuthURL(cfg, s)
	require.NoError(err)

	u, err := url.Parse(tp.Authorize(t, authURL))
	require.NoError(err)
	assert.Equal(s.ID(), u.Query().Get("state"))
	assert.NotEmpty(u.Query().Get("code"))

	tp.DenyAuthorization(true)
	u, err = url.Parse(tp.Authorize(t, authURL))
	require.NoError(err)
	assert.Equal("access_denied", u.Query().Get("error"))
}
