/*
oidc is a package for obtaining OIDC token sets as a relying party, using the
authorization code, implicit, hybrid and password flows.

Primary types provided by the package

* Config: the client configuration for one relying party (client id/secret,
redirect url, scopes, flow, optional realm) plus the provider endpoints, which
may be discovered from an issuer.

* State: represents one interactive authorization attempt. Its ID is sent as
the state parameter and its Nonce as the nonce parameter; both are checked
when the attempt is finished.

* TokenSet: an id_token, access_token and refresh_token with the access
token's expiry and scope. The token types redact themselves when printed or
marshaled to JSON.

* Client: exchanges authorization codes, refresh tokens and resource owner
credentials at the token endpoint, validates id_tokens and classifies
failures (ErrInvalidResponse, ErrInvalidIdToken, ErrRefreshRejected,
ErrNetworkFailure).

Building the authorization request

AuthURL builds the url a browser is sent to. The prompt parameter is
"consent" when offline_access is requested and "login" otherwise, display is
always "touch" and a configured realm is added as a query parameter.
ParseRedirect and ParseImplicitFragment read the provider's answer, and
Client.FinishAuthorization turns it into a TokenSet.

Testing

TestProvider is an in process provider with a TLS listener, suitable for
exercising every flow in unit tests.
*/
package oidc
