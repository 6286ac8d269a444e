package store

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"
)

// Encrypted is a Store which seals values with a Keyring before writing them
// to a Backend.
type Encrypted struct {
	backend Backend
	keyring *Keyring
	logger  hclog.Logger
}

var _ Store = (*Encrypted)(nil)

// NewEncrypted creates an Encrypted store.
//
// Supported options: WithLogger
func NewEncrypted(b Backend, k *Keyring, opt ...Option) (*Encrypted, error) {
	const op = "store.NewEncrypted"
	switch {
	case b == nil:
		return nil, fmt.Errorf("%s: backend is nil: %w", op, ErrNilParameter)
	case k == nil:
		return nil, fmt.Errorf("%s: keyring is nil: %w", op, ErrNilParameter)
	}
	opts := getEncryptedOpts(opt...)
	return &Encrypted{backend: b, keyring: k, logger: opts.withLogger}, nil
}

// Keyring returns the store's keyring so callers can unlock it.
func (s *Encrypted) Keyring() *Keyring { return s.keyring }

// Get implements Store.Get.
func (s *Encrypted) Get(ctx context.Context, account, slot string) (string, error) {
	const op = "Encrypted.Get"
	if err := checkSlot(account, slot); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if s.keyring.IsLocked() {
		return "", fmt.Errorf("%s: %w", op, ErrLocked)
	}
	sealed, err := s.backend.Get(ctx, account, slot)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if sealed == nil {
		return "", nil
	}
	v, err := s.keyring.Open(account, slot, sealed)
	if err != nil {
		s.logger.Warn("unable to open slot", "account", account, "slot", slot, "error", err)
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return string(v), nil
}

// Put implements Store.Put.
func (s *Encrypted) Put(ctx context.Context, account, slot, value string) error {
	const op = "Encrypted.Put"
	if err := checkSlot(account, slot); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if value == "" {
		if err := s.backend.Delete(ctx, account, slot); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return nil
	}
	sealed, err := s.keyring.Seal(account, slot, []byte(value))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.backend.Put(ctx, account, slot, sealed); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Store.Remove.
func (s *Encrypted) Remove(ctx context.Context, account string) error {
	const op = "Encrypted.Remove"
	if account == "" {
		return fmt.Errorf("%s: account is empty: %w", op, ErrInvalidParameter)
	}
	if err := s.backend.Remove(ctx, account); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Accounts implements Store.Accounts.
func (s *Encrypted) Accounts(ctx context.Context) ([]string, error) {
	const op = "Encrypted.Accounts"
	accounts, err := s.backend.Accounts(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accounts, nil
}

// IsLocked implements Store.IsLocked.
func (s *Encrypted) IsLocked() bool { return s.keyring.IsLocked() }

func checkSlot(account, slot string) error {
	switch {
	case account == "":
		return fmt.Errorf("account is empty: %w", ErrInvalidParameter)
	case slot == "":
		return fmt.Errorf("slot is empty: %w", ErrInvalidParameter)
	}
	return nil
}

type encryptedOptions struct {
	withLogger hclog.Logger
}

func encryptedDefaults() encryptedOptions {
	return encryptedOptions{
		withLogger: hclog.NewNullLogger(),
	}
}

func getEncryptedOpts(opt ...Option) encryptedOptions {
	opts := encryptedDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
