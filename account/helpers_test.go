package account

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
	josejwt "gopkg.in/square/go-jose.v2/jwt"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

func testStore(t *testing.T, opt ...store.Option) *store.Encrypted {
	t.Helper()
	key, err := store.GenerateKey()
	require.NoError(t, err)
	k, err := store.NewKeyring(key, opt...)
	require.NoError(t, err)
	st, err := store.NewEncrypted(store.NewMemory(), k)
	require.NoError(t, err)
	return st
}

func testLogger(t *testing.T) hclog.Logger {
	return hclog.New(&hclog.LoggerOptions{Level: hclog.Trace, Output: testWriter{t}})
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func testManager(t *testing.T, st store.Store, ex Exchanger, opt ...Option) *Manager {
	t.Helper()
	m, err := NewManager(st, ex, append([]Option{WithLogger(testLogger(t))}, opt...)...)
	require.NoError(t, err)
	return m
}

// testIdToken returns a signed id_token carrying sub and, when set,
// given_name.
func testIdToken(t *testing.T, sub, givenName string) oidc.IdToken {
	t.Helper()
	_, priv := oidc.TestGenerateKeys(t)
	claims := josejwt.Claims{
		Subject:  sub,
		Audience: josejwt.Audience{"c1"},
		Expiry:   josejwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	private := map[string]interface{}{}
	if givenName != "" {
		private["given_name"] = givenName
	}
	return oidc.IdToken(oidc.TestSignJWT(t, priv, claims, private))
}

func testConfig(t *testing.T) *oidc.Config {
	t.Helper()
	return testClientConfig(t, "c1")
}

func testClientConfig(t *testing.T, clientId string) *oidc.Config {
	t.Helper()
	c, err := oidc.NewConfig(clientId, "s1", "app://cb", oidc.CodeFlow,
		oidc.WithScopes("openid", "offline_access"),
		oidc.WithEndpoints("https://provider.example.com/auth", "https://provider.example.com/token"),
	)
	require.NoError(t, err)
	return c
}

// testExchanger is an Exchanger whose results are set by the test. It counts
// refresh exchanges and can hold them until release is closed or their
// context is done. Each held exchange is announced on started when set.
type testExchanger struct {
	mu           sync.Mutex
	refreshCalls int
	lastRefresh  oidc.RefreshToken
	refresh      func(rt oidc.RefreshToken) (*oidc.TokenSet, error)
	password     func(username, password string) (*oidc.TokenSet, error)
	finish       func(s oidc.State, redirectURL string) (*oidc.TokenSet, error)
	release      chan struct{}
	started      chan struct{}
}

func (e *testExchanger) ExchangeRefreshToken(ctx context.Context, _ *oidc.Config, rt oidc.RefreshToken) (*oidc.TokenSet, error) {
	e.mu.Lock()
	e.refreshCalls++
	e.lastRefresh = rt
	e.mu.Unlock()
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return e.refresh(rt)
}

func (e *testExchanger) ExchangePasswordGrant(_ context.Context, _ *oidc.Config, username, password string) (*oidc.TokenSet, error) {
	return e.password(username, password)
}

func (e *testExchanger) FinishAuthorization(_ context.Context, _ *oidc.Config, s oidc.State, redirectURL string) (*oidc.TokenSet, error) {
	return e.finish(s, redirectURL)
}

func (e *testExchanger) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.refreshCalls
}
