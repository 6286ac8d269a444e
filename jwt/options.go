package jwt

import "time"

// DefaultClockSkew is the leeway applied when checking the exp and nbf claims.
// It is deliberately generous so devices with a drifting clock can still
// accept freshly issued tokens; tighten it with WithClockSkew.
const DefaultClockSkew = 1000 * time.Second

// Option defines a common functional options type which can be used in a
// variadic parameter pattern.
type Option func(interface{})

type validatorOptions struct {
	withClockSkew time.Duration
	withNow       func() time.Time
	withIssuer    string
	withAlgs      []Alg
}

func validatorDefaults() validatorOptions {
	return validatorOptions{
		withClockSkew: DefaultClockSkew,
		withNow:       time.Now,
	}
}

// getValidatorOpts gets the defaults and applies the opt overrides passed
// in.
func getValidatorOpts(opt ...Option) validatorOptions {
	opts := validatorDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}

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

// WithClockSkew overrides DefaultClockSkew. Negative values are ignored.
func WithClockSkew(d time.Duration) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok && d >= 0 {
			v.withClockSkew = d
		}
	}
}

// WithNow provides a time source for validation.
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok && now != nil {
			v.withNow = now
		}
	}
}

// WithIssuer requires the iss claim to equal the given issuer.
func WithIssuer(iss string) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok {
			v.withIssuer = iss
		}
	}
}

// WithSupportedAlgorithms restricts the signing algorithms a token may use.
// By default every algorithm listed in this package is accepted.
func WithSupportedAlgorithms(algs ...Alg) Option {
	return func(o interface{}) {
		if v, ok := o.(*validatorOptions); ok {
			v.withAlgs = algs
		}
	}
}
