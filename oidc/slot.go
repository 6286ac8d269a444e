package oidc

import "fmt"

// Slot names a token kept for an account.
type Slot string

const (
	IdTokenSlot      Slot = "id"
	AccessTokenSlot  Slot = "access"
	RefreshTokenSlot Slot = "refresh"
)

// TokenSlots are the slots written together by a token save.
var TokenSlots = []Slot{IdTokenSlot, AccessTokenSlot, RefreshTokenSlot}

// ParseSlot parses a slot name.
func ParseSlot(s string) (Slot, error) {
	const op = "oidc.ParseSlot"
	switch sl := Slot(s); sl {
	case IdTokenSlot, AccessTokenSlot, RefreshTokenSlot:
		return sl, nil
	default:
		return "", fmt.Errorf("%s: unknown token slot %q: %w", op, s, ErrInvalidParameter)
	}
}

// SlotName returns the storage key for slot scoped to clientId, so one account
// can hold tokens for several clients.
func SlotName(slot Slot, clientId string) string {
	if clientId == "" {
		return string(slot)
	}
	return string(slot) + "." + clientId
}

// Token returns the value of slot from t.
func (t *TokenSet) Token(slot Slot) string {
	if t == nil {
		return ""
	}
	switch slot {
	case IdTokenSlot:
		return string(t.IdToken)
	case AccessTokenSlot:
		return string(t.AccessToken)
	case RefreshTokenSlot:
		return string(t.RefreshToken)
	default:
		return ""
	}
}
