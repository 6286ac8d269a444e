package id

import (
	"fmt"

	"github.com/hashicorp/go-uuid"
)

// DefaultLen is the number of random characters in an id (not counting any
// prefix). 20 base62 characters carry roughly 119 bits of entropy.
const DefaultLen = 20

const base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// New generates a random ID with an optional prefix.
func New(optionalPrefix string) (string, error) {
	id, err := random(DefaultLen)
	if err != nil {
		return "", fmt.Errorf("unable to generate id: %w", err)
	}
	switch {
	case optionalPrefix != "":
		return fmt.Sprintf("%s_%s", optionalPrefix, id), nil
	default:
		return id, nil
	}
}

// random returns a string of n base62 characters. Bytes >= 248 are rejected so
// every character is equally likely.
func random(n int) (string, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		buf, err := uuid.GenerateRandomBytes(n * 2)
		if err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= 248 {
				continue
			}
			out = append(out, base62[int(b)%len(base62)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
