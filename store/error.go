package store

import "errors"

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrNilParameter     = errors.New("nil parameter")
	ErrInvalidKey       = errors.New("invalid sealing key")
	ErrDecrypt          = errors.New("unable to decrypt value")
	ErrUnknownBackend   = errors.New("unknown backend")

	// ErrLocked is returned while the sealing key requires user presence
	// and has not been unlocked.
	ErrLocked = errors.New("store is locked")
)
