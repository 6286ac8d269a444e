package account

import (
	"errors"
	"fmt"

	"github.com/openaccounts/oidcaccount/oidc"
	"github.com/openaccounts/oidcaccount/store"
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrAccountNotFound  = errors.New("account not found")

	// ErrReauthorizationRequired is matched by every
	// *ReauthorizationRequiredError.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrConfigurationMissing means a refresh was needed but no client
	// configuration was supplied or persisted for the account.
	ErrConfigurationMissing = errors.New("client configuration missing")

	// ErrStoreLocked means the credential store needs user presence. The
	// caller should prompt for an unlock and retry the same request.
	ErrStoreLocked = store.ErrLocked
)

// ReauthorizationRequiredError is returned when an account has no usable
// refresh token and an interactive authorization must be started. It carries
// the account and, when known, the client configuration to start it with.
type ReauthorizationRequiredError struct {
	Account *Account
	Config  *oidc.Config
	Cause   error
}

func (e *ReauthorizationRequiredError) Error() string {
	msg := fmt.Sprintf("account %q: %s", e.Account.Name, ErrReauthorizationRequired)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Is reports whether target is ErrReauthorizationRequired.
func (e *ReauthorizationRequiredError) Is(target error) bool {
	return target == ErrReauthorizationRequired
}

func (e *ReauthorizationRequiredError) Unwrap() error { return e.Cause }
