package account

import (
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openaccounts/oidcaccount/oidc"
)

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

// ApplyOpts takes a pointer to the options struct as a set of default options
// and applies the slice of opts as overrides.
func ApplyOpts(opts interface{}, opt ...Option) {
	for _, o := range opt {
		if o == nil { // ignore any nil Options
			continue
		}
		o(opts)
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Manager
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if o, ok := o.(*managerOptions); ok {
			o.withLogger = l
		}
	}
}

// WithRegisterer registers the manager's metrics with r.
//
// Valid for: Manager
func WithRegisterer(r prometheus.Registerer) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok {
			o.withRegisterer = r
		}
	}
}

// WithAccountType sets the type tag of the manager's accounts.
//
// Valid for: Manager
func WithAccountType(t string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && t != "" {
			o.withAccountType = t
		}
	}
}

// WithDefaultAccountName sets the name used for accounts whose tokens carry
// no usable identity claims.
//
// Valid for: Manager
func WithDefaultAccountName(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && n != "" {
			o.withDefaultName = n
		}
	}
}

// WithRefreshTimeout bounds how long a refresh shared by concurrent callers
// may run. Defaults to DefaultRefreshTimeout.
//
// Valid for: Manager
func WithRefreshTimeout(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*managerOptions); ok && d > 0 {
			o.withRefreshTimeout = d
		}
	}
}

// WithConfig supplies the client configuration for an operation. Without it
// the configuration persisted for the account is used.
//
// Valid for: GetToken, SaveTokens, Invalidate, HandleApiFailure, Transport
func WithConfig(c *oidc.Config) Option {
	return func(o interface{}) {
		if o, ok := o.(*callOptions); ok {
			o.withConfig = c
		}
	}
}

// WithAccountName overrides the name derived from the id_token claims.
//
// Valid for: FinishAuthorization, AuthorizeWithPassword
func WithAccountName(n string) Option {
	return func(o interface{}) {
		if o, ok := o.(*callOptions); ok {
			o.withAccountName = n
		}
	}
}

type callOptions struct {
	withConfig      *oidc.Config
	withAccountName string
}

func getCallOpts(opt ...Option) callOptions {
	var opts callOptions
	ApplyOpts(&opts, opt...)
	return opts
}
