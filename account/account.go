package account

import (
	"fmt"

	"github.com/openaccounts/oidcaccount/oidc"
)

// DefaultAccountType tags the accounts of a Manager unless WithAccountType is
// given.
const DefaultAccountType = "oidcaccount"

// DefaultAccountName is used when a token set carries no identity claims and
// no other name is available.
const DefaultAccountName = "default"

// Account is a logical end-user identity owning one set of token slots.
type Account struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// accountName derives the name for an account created from ts: "given_name
// (sub)" when both claims are present, otherwise sub, otherwise fallback.
func accountName(ts *oidc.TokenSet, fallback string) string {
	if ts == nil || ts.IdToken == "" {
		return fallback
	}
	claims, err := ts.IdToken.Claims()
	if err != nil {
		return fallback
	}
	switch {
	case claims.GivenName != "" && claims.Subject != "":
		return fmt.Sprintf("%s (%s)", claims.GivenName, claims.Subject)
	case claims.Subject != "":
		return claims.Subject
	default:
		return fallback
	}
}
