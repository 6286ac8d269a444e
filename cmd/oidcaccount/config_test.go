package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

const testYAML = `
client:
  client_id: cli
  client_secret: shh
  redirect_url: http://127.0.0.1:8250/callback
  scopes: [openid, offline_access]
  issuer: https://idp.example.com
  realm: staff
  clock_skew: 30s
  ui_locales: [fr-CA, en]
store:
  kind: redis
  redis_addr: localhost:6379
  redis_db: 2
  key_file: /tmp/seal.key
  user_presence: 1m
log_level: debug
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	return p
}

func TestLoadConfig(t *testing.T) {
	t.Run("file", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := loadConfig(writeConfig(t, testYAML))
		require.NoError(err)
		assert.Equal("cli", c.Client.ClientId)
		assert.Equal("shh", c.Client.ClientSecret)
		assert.Equal([]string{"openid", "offline_access"}, c.Client.Scopes)
		assert.Equal(string(oidc.CodeFlow), c.Client.Flow)
		assert.Equal(store.RedisKind, c.Store.Kind)
		assert.Equal("localhost:6379", c.Store.RedisAddr)
		assert.Equal(2, c.Store.RedisDB)
		assert.Equal("/tmp/seal.key", c.Store.KeyFile)
		assert.Equal("debug", c.LogLevel)
	})
	t.Run("env-overrides", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv(envPrefix+"CLIENT_ID", "from-env")
		t.Setenv(envPrefix+"SCOPES", "openid, email")
		t.Setenv(envPrefix+"REDIS_DB", "5")
		t.Setenv(envPrefix+"FLOW", "password")
		c, err := loadConfig(writeConfig(t, testYAML))
		require.NoError(err)
		assert.Equal("from-env", c.Client.ClientId)
		assert.Equal([]string{"openid", "email"}, c.Client.Scopes)
		assert.Equal(5, c.Store.RedisDB)
		assert.Equal("password", c.Client.Flow)
	})
	t.Run("defaults", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("HOME", t.TempDir())
		c, err := loadConfig("")
		require.NoError(err)
		assert.Equal(string(oidc.CodeFlow), c.Client.Flow)
		assert.Equal("warn", c.LogLevel)
		assert.Equal(store.FileKind, c.Store.Kind)
		assert.NotEmpty(c.Store.Dir)
		assert.NotEmpty(c.Store.KeyFile)
	})
	t.Run("missing-file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})
	t.Run("bad-yaml", func(t *testing.T) {
		_, err := loadConfig(writeConfig(t, "client: [unclosed"))
		require.Error(t, err)
	})
}

func TestFileConfig_oidcConfig(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		assert, require := assert.New(t), require.New(t)
		c, err := loadConfig(writeConfig(t, testYAML))
		require.NoError(err)
		cfg, err := c.oidcConfig()
		require.NoError(err)
		assert.Equal("cli", cfg.ClientId)
		assert.Equal(oidc.ClientSecret("shh"), cfg.ClientSecret)
		assert.Equal(oidc.CodeFlow, cfg.Flow)
		assert.Equal("staff", cfg.Realm)
		assert.Equal("https://idp.example.com", cfg.Issuer)
		assert.Equal(30*time.Second, cfg.ClockSkew)
		require.Len(cfg.UILocales, 2)
		assert.Equal("fr-CA", cfg.UILocales[0].String())
	})
	tests := []struct {
		name      string
		client    clientConfig
		wantIsErr error
	}{
		{
			name:      "bad-flow",
			client:    clientConfig{ClientId: "cli", Flow: "device", Issuer: "https://idp.example.com"},
			wantIsErr: oidc.ErrUnsupportedFlow,
		},
		{
			name:      "no-endpoints",
			client:    clientConfig{ClientId: "cli", Flow: "password"},
			wantIsErr: oidc.ErrInvalidParameter,
		},
		{
			name:      "bad-clock-skew",
			client:    clientConfig{ClientId: "cli", Flow: "password", Issuer: "https://idp.example.com", ClockSkew: "soon"},
			wantIsErr: nil,
		},
		{
			name:      "bad-locale",
			client:    clientConfig{ClientId: "cli", Flow: "password", Issuer: "https://idp.example.com", UILocales: []string{"!!"}},
			wantIsErr: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			assert, require := assert.New(t), require.New(t)
			c := &fileConfig{Client: tt.client}
			_, err := c.oidcConfig()
			require.Error(err)
			if tt.wantIsErr != nil {
				assert.Truef(errors.Is(err, tt.wantIsErr), "wanted \"%s\" but got \"%s\"", tt.wantIsErr, err)
			}
		})
	}
}

func TestFileConfig_keyringOptions(t *testing.T) {
	assert := assert.New(t)
	c := &fileConfig{}
	opts, err := c.keyringOptions()
	assert.NoError(err)
	assert.Empty(opts)

	c.Store.UserPresence = "2m"
	opts, err = c.keyringOptions()
	assert.NoError(err)
	assert.Len(opts, 1)

	c.Store.UserPresence = "later"
	_, err = c.keyringOptions()
	assert.Error(err)
}

func TestIsLoopback(t *testing.T) {
	assert := assert.New(t)
	assert.True(isLoopback("localhost"))
	assert.True(isLoopback("127.0.0.1"))
	assert.True(isLoopback("::1"))
	assert.False(isLoopback("example.com"))
	assert.False(isLoopback("10.0.0.1"))
}
