package store

import (
	"time"

	"github.com/hashicorp/go-hclog"
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

// WithNow provides an optional func for determining what the current time it
// is.
//
// Valid for: Keyring
func WithNow(now func() time.Time) Option {
	return func(o interface{}) {
		if now == nil {
			return
		}
		if o, ok := o.(*keyringOptions); ok {
			o.withNowFunc = now
		}
	}
}

// WithUserPresence makes the Keyring start locked and stay unlocked for d
// after each Unlock. A d <= 0 uses DefaultUserPresenceDuration.
//
// Valid for: Keyring
func WithUserPresence(d time.Duration) Option {
	return func(o interface{}) {
		if o, ok := o.(*keyringOptions); ok {
			if d <= 0 {
				d = DefaultUserPresenceDuration
			}
			o.withUserPresence = d
		}
	}
}

// WithKeyPrefix sets the prefix of every redis key.
//
// Valid for: Redis
func WithKeyPrefix(prefix string) Option {
	return func(o interface{}) {
		if o, ok := o.(*redisOptions); ok {
			o.withKeyPrefix = prefix
		}
	}
}

// WithLogger provides an optional logger.
//
// Valid for: Encrypted
func WithLogger(l hclog.Logger) Option {
	return func(o interface{}) {
		if l == nil {
			return
		}
		if o, ok := o.(*encryptedOptions); ok {
			o.withLogger = l
		}
	}
}
