/*
callback is a package that provides callbacks (in the form of http.HandlerFunc)
for receiving an OIDC provider's redirect after an interactive authorization.

The handlers rebuild the redirect URL the browser was sent to and hand it,
together with the oidc.State issued for the attempt, to a FinishFunc (usually
account.Manager.FinishAuthorization). Only query-encoded responses reach a
server, so the handlers serve the authorization code flow; implicit and hybrid
fragments stay in the browser and must be passed to the finish function by the
application that holds them.

RedirectWithChannel is meant for a loopback listener started by the same
process that printed the authorization URL, such as a CLI.
*/
package callback
