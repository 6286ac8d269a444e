package callback

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/openaccounts/oidcaccount/oidc"
)

// SuccessResponseFunc is used by the callbacks to create a http response when
// the authorization finished and its tokens were stored.
//
// The state parameter is the state returned by the provider. The function
// should use the http.ResponseWriter to send back whatever content it wishes
// to the browser that followed the redirect.
type SuccessResponseFunc func(state string, w http.ResponseWriter, req *http.Request)

// ErrorResponseFunc is used by the callbacks to create a http response when
// the authorization failed or was cancelled. e is the error returned while
// finishing; oidc.ErrCancelled and *oidc.AuthError can be detected with
// errors.Is and errors.As.
type ErrorResponseFunc func(state string, e error, w http.ResponseWriter, req *http.Request)

// DefaultSuccess writes a plain text page telling the user they may close the
// browser window.
func DefaultSuccess(_ string, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Authorization complete. You may close this window.\n"))
}

// DefaultError writes a plain text page describing e. Cancellation is
// reported with 200 since the user chose it.
func DefaultError(_ string, e error, w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	var authErr *oidc.AuthError
	switch {
	case errors.Is(e, oidc.ErrCancelled):
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Authorization cancelled.\n"))
	case errors.As(e, &authErr):
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = fmt.Fprintf(w, "Authorization failed: %s\n", authErr.ErrorCode)
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("Authorization could not be completed.\n"))
	}
}
