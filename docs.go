// oidcaccount keeps OIDC authenticated accounts usable: it obtains tokens
// through the authorization code, implicit, hybrid and password flows,
// stores them sealed per account and renews them when an API rejects them.
//
// Packages:
//	oidc          client configuration, authorization URLs, redirect parsing and token exchanges
//	oidc/callback http handlers finishing a code flow on a redirect URL
//	jwt           id_token signature and claims verification
//	store         sealed token storage over memory, file and redis backends
//	account       the Manager serving tokens and recovering from rejected ones
//
// cmd/oidcaccount is a command line client built on these packages.
package oidcaccount
