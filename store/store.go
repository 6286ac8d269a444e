package store

import "context"

// Store is a scoped key/value store for named token slots per account.
// Implementations must be concurrently safe and write each slot atomically.
type Store interface {
	// Get returns the slot's value, or "" when the slot is absent. It returns
	// ErrLocked only when the sealing key is locked.
	Get(ctx context.Context, account, slot string) (string, error)

	// Put replaces the slot's value. An empty value removes the slot.
	Put(ctx context.Context, account, slot, value string) error

	// Remove deletes every slot of the account.
	Remove(ctx context.Context, account string) error

	// Accounts lists the accounts which have at least one slot.
	Accounts(ctx context.Context) ([]string, error)

	// IsLocked reports whether Get and Put currently fail with ErrLocked.
	IsLocked() bool
}

// Backend persists raw slot values. Values handed to a Backend by Encrypted
// are already sealed.
type Backend interface {
	// Get returns nil, nil when the slot is absent.
	Get(ctx context.Context, account, slot string) ([]byte, error)
	Put(ctx context.Context, account, slot string, value []byte) error
	Delete(ctx context.Context, account, slot string) error
	Remove(ctx context.Context, account string) error
	Accounts(ctx context.Context) ([]string, error)
}
