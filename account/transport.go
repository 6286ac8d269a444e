package account

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/openaccounts/oidcaccount/oidc"
)

// maxErrorBody bounds how much of a failed response is read to look for an
// invalid token marker.
const maxErrorBody = 64 << 10

var defaultTransport = cleanhttp.DefaultPooledTransport()

// invalidTokenMarkers are the fragments of a 400 response body that mean the
// presented token was rejected.
var invalidTokenMarkers = []string{
	"invalid_grant",
	"invalid_token",
	"Access Token not valid",
}

// TokenRejected reports whether an API response means the bearer token was
// rejected: 401, 403, or 400 with an invalid token marker in the body.
func TokenRejected(status int, body string) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		for _, m := range invalidTokenMarkers {
			if strings.Contains(body, m) {
				return true
			}
		}
	}
	return false
}

// Transport is an http.RoundTripper that authenticates requests with a token
// of Account. When the API rejects the token it asks the Manager whether to
// retry, and if so sends the request once more with a renewed token.
type Transport struct {
	Manager *Manager
	Account string

	// Slot is the token sent as the bearer credential. Defaults to
	// oidc.AccessTokenSlot.
	Slot oidc.Slot

	// Options are passed to GetToken and HandleApiFailure, typically
	// WithConfig.
	Options []Option

	// Base sends the requests. Defaults to a pooled cleanhttp transport.
	Base http.RoundTripper
}

// NewClient returns an http.Client sending requests through a Transport for
// the account.
func (m *Manager) NewClient(name string, opt ...Option) *http.Client {
	c := cleanhttp.DefaultPooledClient()
	c.Transport = &Transport{
		Manager: m,
		Account: name,
		Options: opt,
		Base:    c.Transport,
	}
	return c
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	const op = "Transport.RoundTrip"
	if t.Manager == nil {
		closeBody(req)
		return nil, fmt.Errorf("%s: manager is nil: %w", op, ErrNilParameter)
	}
	resp, err := t.send(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch {
	case resp.StatusCode != http.StatusBadRequest && !TokenRejected(resp.StatusCode, ""):
		return resp, nil
	case req.Body != nil && req.Body != http.NoBody && req.GetBody == nil:
		// the body cannot be replayed
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	retry, err := t.Manager.HandleApiFailure(req.Context(), t.Account, resp.StatusCode, string(body), true, t.Options...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !retry {
		return resp, nil
	}
	retryReq := req.Clone(req.Context())
	if req.GetBody != nil {
		if retryReq.Body, err = req.GetBody(); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	resp, err = t.send(retryReq)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return resp, nil
}

func (t *Transport) send(req *http.Request) (*http.Response, error) {
	slot := t.Slot
	if slot == "" {
		slot = oidc.AccessTokenSlot
	}
	tk, err := t.Manager.GetToken(req.Context(), t.Account, slot, t.Options...)
	if err != nil {
		closeBody(req)
		return nil, err
	}
	base := t.Base
	if base == nil {
		base = defaultTransport
	}
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "Bearer "+tk)
	return base.RoundTrip(r)
}

// closeBody closes the request body on paths that never hand req to the base
// transport, which would otherwise close it.
func closeBody(req *http.Request) {
	if req.Body != nil {
		req.Body.Close()
	}
}
