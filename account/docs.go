/*
account is a package for managing the tokens of OIDC authenticated accounts.

A Manager stores each account's id, access and refresh tokens in a
store.Store and serves them to API callers. It does not look at expiry
times: a stored token is handed out until an API rejects it, at which point
HandleApiFailure clears it and the next GetToken redeems the refresh token.
Every API call gets at most one such renewal. When no refresh token is left
GetToken returns a *ReauthorizationRequiredError carrying what is needed to
start a new interactive authorization.

	m, _ := account.NewManager(st, oidc.NewClient())
	a, _ := m.FinishAuthorization(ctx, cfg, state, redirectURL)
	resp, err := m.NewClient(a.Name).Get("https://api.example.com/me")
	var reauth *account.ReauthorizationRequiredError
	if errors.As(err, &reauth) {
		// send the user through oidc.AuthURL(reauth.Config, ...) again
	}
*/
package account
