package callback

import "errors"

var (
	ErrNilParameter   = errors.New("nil parameter")
	ErrStateNotFound  = errors.New("state not found")
	ErrAlreadyHandled = errors.New("callback already handled")
)
