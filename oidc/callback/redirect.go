package callback

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/openaccounts/oidcaccount/oidc"
)

// FinishFunc completes an authorization attempt from the redirect URL the
// provider sent the browser to.
type FinishFunc func(ctx context.Context, s oidc.State, redirectURL string) error

// Redirect creates a callback handler which uses a StateReader to find the
// oidc.State named by the request's "state" parameter and passes it, with the
// full redirect URL, to finish.
//
// The SuccessResponseFunc is used to create a response when finish succeeds.
// The ErrorResponseFunc is used to create a response otherwise.
func Redirect(ctx context.Context, rw StateReader, finish FinishFunc, sFn SuccessResponseFunc, eFn ErrorResponseFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		const op = "callback.Redirect"
		reqState := req.FormValue("state")
		if err := handle(ctx, rw, finish, req); err != nil {
			eFn(reqState, fmt.Errorf("%s: %w", op, err), w, req)
			return
		}
		sFn(reqState, w, req)
	}
}

// Result is written to the channel returned by RedirectWithChannel once the
// callback has been handled.
type Result struct {
	State string // State returned by the provider.
	Err   error  // Err is populated when finishing the authorization failed.
}

// RedirectWithChannel creates a one-time callback handler for the single
// attempt s and reports its outcome on the returned channel. The channel is
// buffered and closed after the first result, so a caller may stop reading
// once it has a Result. Requests after the first get ErrAlreadyHandled.
func RedirectWithChannel(ctx context.Context, s oidc.State, finish FinishFunc, sFn SuccessResponseFunc, eFn ErrorResponseFunc) (<-chan Result, http.HandlerFunc) {
	const op = "callback.RedirectWithChannel"
	doneCh := make(chan Result, 1)
	var once sync.Once
	rw := &SingleStateReader{State: s}
	return doneCh, func(w http.ResponseWriter, req *http.Request) {
		reqState := req.FormValue("state")
		handled := false
		once.Do(func() {
			handled = true
			err := handle(ctx, rw, finish, req)
			if err != nil {
				err = fmt.Errorf("%s: %w", op, err)
				eFn(reqState, err, w, req)
			} else {
				sFn(reqState, w, req)
			}
			doneCh <- Result{State: reqState, Err: err}
			close(doneCh)
		})
		if !handled {
			eFn(reqState, fmt.Errorf("%s: %w", op, ErrAlreadyHandled), w, req)
		}
	}
}

func handle(ctx context.Context, rw StateReader, finish FinishFunc, req *http.Request) error {
	switch {
	case rw == nil:
		return fmt.Errorf("state reader is nil: %w", ErrNilParameter)
	case finish == nil:
		return fmt.Errorf("finish func is nil: %w", ErrNilParameter)
	}
	s, err := rw.Read(ctx, req.FormValue("state"))
	if err != nil {
		return err
	}
	return finish(ctx, s, requestURL(req))
}

// requestURL rebuilds the absolute URL the browser requested.
func requestURL(req *http.Request) string {
	scheme := "http"
	if req.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + req.Host + req.URL.RequestURI()
}
