package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

const envPrefix = "OIDCACCOUNT_"

// fileConfig is the YAML configuration of the CLI. Environment variables
// prefixed with OIDCACCOUNT_ override file values.
type fileConfig struct {
	Client   clientConfig `yaml:"client"`
	Store    storeConfig  `yaml:"store"`
	LogLevel string       `yaml:"log_level"`
}

type clientConfig struct {
	ClientId       string   `yaml:"client_id"`
	ClientSecret   string   `yaml:"client_secret"`
	RedirectUrl    string   `yaml:"redirect_url"`
	Scopes         []string `yaml:"scopes"`
	Flow           string   `yaml:"flow"`
	Realm          string   `yaml:"realm"`
	Issuer         string   `yaml:"issuer"`
	AuthURL        string   `yaml:"auth_url"`
	TokenURL       string   `yaml:"token_url"`
	JWKSURL        string   `yaml:"jwks_url"`
	SigningKeys    []string `yaml:"signing_key_files"`
	ProviderCAFile string   `yaml:"provider_ca_file"`
	ClockSkew      string   `yaml:"clock_skew"`
	UILocales      []string `yaml:"ui_locales"`
}

type storeConfig struct {
	store.Settings `yaml:",inline"`
	KeyFile        string `yaml:"key_file"`
	UserPresence   string `yaml:"user_presence"`
}

func loadConfig(path string) (*fileConfig, error) {
	var c fileConfig
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(b, &c); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	c.applyEnv()

	// sane defaults
	if c.Client.Flow == "" {
		c.Client.Flow = string(oidc.CodeFlow)
	}
	if c.LogLevel == "" {
		c.LogLevel = "warn"
	}
	// tokens must outlive the process, so memory is only used when asked for
	if c.Store.Kind == "" && c.Store.Detect() == store.MemoryKind {
		c.Store.Kind = store.FileKind
	}
	if c.Store.KeyFile == "" || (c.Store.Detect() == store.FileKind && c.Store.Dir == "") {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, err
		}
		if c.Store.KeyFile == "" {
			c.Store.KeyFile = filepath.Join(dir, "oidcaccount", "seal.key")
		}
		if c.Store.Dir == "" {
			c.Store.Dir = filepath.Join(dir, "oidcaccount", "tokens")
		}
	}
	return &c, nil
}

func (c *fileConfig) applyEnv() {
	str := func(p *string, key string) {
		if v, ok := getEnvStr(key); ok {
			*p = v
		}
	}
	list := func(p *[]string, key string) {
		if v, ok := getEnvStr(key); ok {
			*p = strings.Fields(strings.ReplaceAll(v, ",", " "))
		}
	}
	str(&c.Client.ClientId, "CLIENT_ID")
	str(&c.Client.ClientSecret, "CLIENT_SECRET")
	str(&c.Client.RedirectUrl, "REDIRECT_URL")
	list(&c.Client.Scopes, "SCOPES")
	str(&c.Client.Flow, "FLOW")
	str(&c.Client.Realm, "REALM")
	str(&c.Client.Issuer, "ISSUER")
	str(&c.Client.AuthURL, "AUTH_URL")
	str(&c.Client.TokenURL, "TOKEN_URL")
	str(&c.Client.JWKSURL, "JWKS_URL")
	str(&c.Client.ProviderCAFile, "PROVIDER_CA_FILE")
	str(&c.Client.ClockSkew, "CLOCK_SKEW")
	list(&c.Client.UILocales, "UI_LOCALES")
	if v, ok := getEnvStr("STORE_KIND"); ok {
		c.Store.Kind = store.Kind(v)
	}
	str(&c.Store.Dir, "STORE_DIR")
	str(&c.Store.RedisAddr, "REDIS_ADDR")
	if v, ok := getEnvInt("REDIS_DB"); ok {
		c.Store.RedisDB = v
	}
	str(&c.Store.RedisPassword, "REDIS_PASSWORD")
	str(&c.Store.KeyFile, "KEY_FILE")
	str(&c.Store.UserPresence, "USER_PRESENCE")
	str(&c.LogLevel, "LOG_LEVEL")
}

// oidcConfig builds the client configuration described by c.
func (c *fileConfig) oidcConfig() (*oidc.Config, error) {
	cc := c.Client
	flow, err := oidc.ParseFlow(cc.Flow)
	if err != nil {
		return nil, err
	}
	opts := []oidc.Option{
		oidc.WithScopes(cc.Scopes...),
		oidc.WithRealm(cc.Realm),
		oidc.WithIssuer(cc.Issuer),
		oidc.WithEndpoints(cc.AuthURL, cc.TokenURL),
		oidc.WithJWKSURL(cc.JWKSURL),
	}
	if len(cc.SigningKeys) > 0 {
		var pems []string
		for _, f := range cc.SigningKeys {
			b, err := os.ReadFile(f)
			if err != nil {
				return nil, err
			}
			pems = append(pems, string(b))
		}
		opts = append(opts, oidc.WithSigningKeys(pems...))
	}
	if cc.ProviderCAFile != "" {
		b, err := os.ReadFile(cc.ProviderCAFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, oidc.WithProviderCA(string(b)))
	}
	if cc.ClockSkew != "" {
		d, err := time.ParseDuration(cc.ClockSkew)
		if err != nil {
			return nil, fmt.Errorf("clock_skew: %w", err)
		}
		opts = append(opts, oidc.WithClockSkew(d))
	}
	if len(cc.UILocales) > 0 {
		var tags []language.Tag
		for _, l := range cc.UILocales {
			t, err := language.Parse(l)
			if err != nil {
				return nil, fmt.Errorf("ui_locales: %w", err)
			}
			tags = append(tags, t)
		}
		opts = append(opts, oidc.WithUILocales(tags...))
	}
	return oidc.NewConfig(cc.ClientId, oidc.ClientSecret(cc.ClientSecret), cc.RedirectUrl, flow, opts...)
}

// keyringOptions returns the keyring options described by the store config.
func (c *fileConfig) keyringOptions() ([]store.Option, error) {
	if c.Store.UserPresence == "" {
		return nil, nil
	}
	d, err := time.ParseDuration(c.Store.UserPresence)
	if err != nil {
		return nil, fmt.Errorf("user_presence: %w", err)
	}
	return []store.Option{store.WithUserPresence(d)}, nil
}

func getEnvStr(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func getEnvInt(key string) (int, bool) {
	if s, ok := getEnvStr(key); ok {
		if i, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return i, true
		}
	}
	return 0, false
}
