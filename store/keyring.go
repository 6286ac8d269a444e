package store

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeyLength is the length in bytes of a sealing key.
	KeyLength = 32

	// DefaultUserPresenceDuration is how long a Keyring that requires user
	// presence stays unlocked.
	DefaultUserPresenceDuration = 5 * time.Minute

	nonceLength = 24
)

// Keyring holds the process wide sealing key used to encrypt slot values.
// When created WithUserPresence it starts locked and must be unlocked, which
// lasts for the configured duration. A Keyring is safe for concurrent use.
type Keyring struct {
	mu            sync.Mutex
	key           [KeyLength]byte
	presence      time.Duration
	unlockedUntil time.Time
	nowFunc       func() time.Time
}

// NewKeyring creates a Keyring from a KeyLength byte key.
//
// Supported options: WithUserPresence, WithNow
func NewKeyring(key []byte, opt ...Option) (*Keyring, error) {
	const op = "store.NewKeyring"
	if len(key) != KeyLength {
		return nil, fmt.Errorf("%s: key must be %d bytes, got %d: %w", op, KeyLength, len(key), ErrInvalidKey)
	}
	opts := getKeyringOpts(opt...)
	k := &Keyring{
		presence: opts.withUserPresence,
		nowFunc:  opts.withNowFunc,
	}
	copy(k.key[:], key)
	return k, nil
}

// GenerateKey returns a new random sealing key.
func GenerateKey() ([]byte, error) {
	const op = "store.GenerateKey"
	key := make([]byte, KeyLength)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return key, nil
}

// LoadKeyFile reads a base64 encoded sealing key from path. When the file
// does not exist and create is true a new key is generated and written to
// path with mode 0600.
func LoadKeyFile(path string, create bool) ([]byte, error) {
	const op = "store.LoadKeyFile"
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(b)))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", op, err.Error(), ErrInvalidKey)
		}
		if len(key) != KeyLength {
			return nil, fmt.Errorf("%s: key must be %d bytes, got %d: %w", op, KeyLength, len(key), ErrInvalidKey)
		}
		return key, nil
	case !errors.Is(err, fs.ErrNotExist) || !create:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	key, err := GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := atomicWriteFile(path, []byte(base64.StdEncoding.EncodeToString(key)+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return key, nil
}

// RequiresUserPresence reports whether the keyring locks itself.
func (k *Keyring) RequiresUserPresence() bool { return k.presence > 0 }

// Unlock records user presence. It is a no-op for a keyring that does not
// require presence.
func (k *Keyring) Unlock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.presence > 0 {
		k.unlockedUntil = k.nowFunc().Add(k.presence)
	}
}

// Lock ends the current unlock period.
func (k *Keyring) Lock() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.unlockedUntil = time.Time{}
}

// IsLocked reports whether Seal and Open currently fail with ErrLocked.
func (k *Keyring) IsLocked() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.locked()
}

func (k *Keyring) locked() bool {
	return k.presence > 0 && !k.nowFunc().Before(k.unlockedUntil)
}

// Seal encrypts value for the given account and slot. The sealed value can
// only be opened for the same account and slot.
func (k *Keyring) Seal(account, slot string, value []byte) ([]byte, error) {
	const op = "Keyring.Seal"
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked() {
		return nil, fmt.Errorf("%s: %w", op, ErrLocked)
	}
	var nonce [nonceLength]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	msg := append(binding(account, slot), value...)
	return secretbox.Seal(nonce[:], msg, &nonce, &k.key), nil
}

// Open decrypts a value produced by Seal for the same account and slot.
func (k *Keyring) Open(account, slot string, sealed []byte) ([]byte, error) {
	const op = "Keyring.Open"
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locked() {
		return nil, fmt.Errorf("%s: %w", op, ErrLocked)
	}
	if len(sealed) < nonceLength+secretbox.Overhead {
		return nil, fmt.Errorf("%s: sealed value too short: %w", op, ErrDecrypt)
	}
	var nonce [nonceLength]byte
	copy(nonce[:], sealed[:nonceLength])
	msg, ok := secretbox.Open(nil, sealed[nonceLength:], &nonce, &k.key)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, ErrDecrypt)
	}
	b := binding(account, slot)
	if !bytes.HasPrefix(msg, b) {
		return nil, fmt.Errorf("%s: value sealed for another slot: %w", op, ErrDecrypt)
	}
	return msg[len(b):], nil
}

// binding length-prefixes account and slot so no two pairs share one.
func binding(account, slot string) []byte {
	b := make([]byte, 0, 2*binary.MaxVarintLen64+len(account)+len(slot))
	b = binary.AppendUvarint(b, uint64(len(account)))
	b = append(b, account...)
	b = binary.AppendUvarint(b, uint64(len(slot)))
	return append(b, slot...)
}

type keyringOptions struct {
	withUserPresence time.Duration
	withNowFunc      func() time.Time
}

func keyringDefaults() keyringOptions {
	return keyringOptions{
		withNowFunc: time.Now,
	}
}

func getKeyringOpts(opt ...Option) keyringOptions {
	opts := keyringDefaults()
	ApplyOpts(&opts, opt...)
	return opts
}
