package account

import (
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/text/language"

	"github.com/openaccounts/oidcaccount/oidc"
)

// configSlot holds the client configuration persisted for an account.
const configSlot = "config"

// storedConfig is the persisted form of an oidc.Config. It exists because
// oidc.ClientSecret redacts itself when marshaled.
type storedConfig struct {
	ClientId     string        `json:"client_id"`
	ClientSecret string        `json:"client_secret,omitempty"`
	RedirectUrl  string        `json:"redirect_url,omitempty"`
	Scopes       []string      `json:"scopes,omitempty"`
	Flow         oidc.Flow     `json:"flow"`
	Realm        string        `json:"realm,omitempty"`
	Issuer       string        `json:"issuer,omitempty"`
	AuthURL      string        `json:"auth_url,omitempty"`
	TokenURL     string        `json:"token_url,omitempty"`
	JWKSURL      string        `json:"jwks_url,omitempty"`
	SigningKeys  []string      `json:"signing_keys,omitempty"`
	ClockSkew    time.Duration `json:"clock_skew,omitempty"`
	ProviderCA   string        `json:"provider_ca,omitempty"`
	UILocales    []string      `json:"ui_locales,omitempty"`
}

func marshalConfig(c *oidc.Config) ([]byte, error) {
	sc := storedConfig{
		ClientId:     c.ClientId,
		ClientSecret: string(c.ClientSecret),
		RedirectUrl:  c.RedirectUrl,
		Scopes:       c.Scopes,
		Flow:         c.Flow,
		Realm:        c.Realm,
		Issuer:       c.Issuer,
		AuthURL:      c.AuthURL,
		TokenURL:     c.TokenURL,
		JWKSURL:      c.JWKSURL,
		SigningKeys:  c.SigningKeys,
		ClockSkew:    c.ClockSkew,
		ProviderCA:   c.ProviderCA,
	}
	for _, t := range c.UILocales {
		sc.UILocales = append(sc.UILocales, t.String())
	}
	return json.Marshal(&sc)
}

func unmarshalConfig(b []byte) (*oidc.Config, error) {
	var sc storedConfig
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, err
	}
	c := &oidc.Config{
		ClientId:     sc.ClientId,
		ClientSecret: oidc.ClientSecret(sc.ClientSecret),
		RedirectUrl:  sc.RedirectUrl,
		Scopes:       sc.Scopes,
		Flow:         sc.Flow,
		Realm:        sc.Realm,
		Issuer:       sc.Issuer,
		AuthURL:      sc.AuthURL,
		TokenURL:     sc.TokenURL,
		JWKSURL:      sc.JWKSURL,
		SigningKeys:  sc.SigningKeys,
		ClockSkew:    sc.ClockSkew,
		ProviderCA:   sc.ProviderCA,
	}
	for _, s := range sc.UILocales {
		t, err := language.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("ui locale %q: %w", s, err)
		}
		c.UILocales = append(c.UILocales, t)
	}
	return c, nil
}
