package store

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Kind names a Backend implementation.
type Kind string

const (
	MemoryKind Kind = "memory"
	FileKind   Kind = "file"
	RedisKind  Kind = "redis"
)

// Settings select and configure the Backend used by New.
type Settings struct {
	// Kind of backend. When empty it is detected from the other fields: redis
	// when RedisAddr is set, file when Dir is set, memory otherwise.
	Kind Kind `yaml:"kind"`

	Dir string `yaml:"dir"`

	RedisAddr      string `yaml:"redis_addr"`
	RedisDB        int    `yaml:"redis_db"`
	RedisPassword  string `yaml:"redis_password"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`
}

// Detect returns the Kind New would use for s.
func (s Settings) Detect() Kind {
	switch {
	case s.Kind != "":
		return s.Kind
	case s.RedisAddr != "":
		return RedisKind
	case s.Dir != "":
		return FileKind
	default:
		return MemoryKind
	}
}

// New creates the Encrypted store for s, sealing values with k.
//
// Supported options: WithLogger
func New(s Settings, k *Keyring, opt ...Option) (*Encrypted, error) {
	const op = "store.New"
	var (
		b   Backend
		err error
	)
	switch kind := s.Detect(); kind {
	case MemoryKind:
		b = NewMemory()
	case FileKind:
		b, err = NewFile(s.Dir)
	case RedisKind:
		var ropts []Option
		if s.RedisKeyPrefix != "" {
			ropts = append(ropts, WithKeyPrefix(s.RedisKeyPrefix))
		}
		b, err = NewRedis(redis.NewClient(&redis.Options{
			Addr:     s.RedisAddr,
			DB:       s.RedisDB,
			Password: s.RedisPassword,
		}), ropts...)
	default:
		return nil, fmt.Errorf("%s: %q: %w", op, kind, ErrUnknownBackend)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	st, err := NewEncrypted(b, k, opt...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return st, nil
}
