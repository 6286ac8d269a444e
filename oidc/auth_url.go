package oidc

import (
	"fmt"

	"golang.org/x/oauth2"
)

const (
	promptConsent = "consent"
	promptLogin   = "login"
	displayTouch  = "touch"
)

// AuthURL builds the authorization request url for the config's flow. The
// state's ID and Nonce are sent as the state and nonce parameters; the caller
// must keep the State to finish the authorization.
//
// prompt is "consent" when offline_access is requested (so the provider will
// issue a refresh_token) and "login" otherwise. display is always "touch".
// PasswordFlow has no authorization request and returns ErrUnsupportedFlow.
func AuthURL(c *Config, s State) (string, error) {
	const op = "oidc.AuthURL"
	switch {
	case c == nil:
		return "", fmt.Errorf("%s: config is nil: %w", op, ErrNilParameter)
	case s == nil:
		return "", fmt.Errorf("%s: state is nil: %w", op, ErrNilParameter)
	case s.ID() == "" || s.Nonce() == "":
		return "", fmt.Errorf("%s: state id and nonce are required: %w", op, ErrInvalidParameter)
	case s.ID() == s.Nonce():
		return "", fmt.Errorf("%s: state id and nonce cannot be equal: %w", op, ErrInvalidParameter)
	}
	responseType, err := c.Flow.ResponseType()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if c.AuthURL == "" {
		return "", fmt.Errorf("%s: authorization endpoint is not configured (see Client.Discover): %w", op, ErrInvalidParameter)
	}
	if c.RedirectUrl == "" {
		return "", fmt.Errorf("%s: redirect URL is empty: %w", op, ErrInvalidParameter)
	}

	prompt := promptLogin
	if c.OfflineAccess() {
		prompt = promptConsent
	}

	oauth2Config := oauth2.Config{
		ClientID:    c.ClientId,
		RedirectURL: c.RedirectUrl,
		Endpoint:    oauth2.Endpoint{AuthURL: c.AuthURL},
		Scopes:      c.RequestedScopes(),
	}
	authCodeOpts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("response_type", responseType),
		oauth2.SetAuthURLParam("nonce", s.Nonce()),
		oauth2.SetAuthURLParam("prompt", prompt),
		oauth2.SetAuthURLParam("display", displayTouch),
	}
	if c.Realm != "" {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("realm", c.Realm))
	}
	if len(c.UILocales) > 0 {
		authCodeOpts = append(authCodeOpts, oauth2.SetAuthURLParam("ui_locales", c.uiLocales()))
	}
	return oauth2Config.AuthCodeURL(s.ID(), authCodeOpts...), nil
}
