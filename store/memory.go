package store

import (
	"context"
	"sort"
	"strconv"
	"strings"

	gocache "github.com/patrickmn/go-cache"
)

// Memory is a process local Backend. Slots never expire; they live until
// deleted or the process exits.
type Memory struct {
	c *gocache.Cache
}

var _ Backend = (*Memory)(nil)

// NewMemory creates an empty Memory backend.
func NewMemory() *Memory {
	return &Memory{c: gocache.New(gocache.NoExpiration, 0)}
}

// Get implements Backend.Get.
func (m *Memory) Get(_ context.Context, account, slot string) ([]byte, error) {
	v, ok := m.c.Get(memoryKey(account, slot))
	if !ok {
		return nil, nil
	}
	b, _ := v.([]byte)
	return append([]byte(nil), b...), nil
}

// Put implements Backend.Put.
func (m *Memory) Put(_ context.Context, account, slot string, value []byte) error {
	m.c.Set(memoryKey(account, slot), append([]byte(nil), value...), gocache.NoExpiration)
	return nil
}

// Delete implements Backend.Delete.
func (m *Memory) Delete(_ context.Context, account, slot string) error {
	m.c.Delete(memoryKey(account, slot))
	return nil
}

// Remove implements Backend.Remove.
func (m *Memory) Remove(_ context.Context, account string) error {
	prefix := accountPrefix(account)
	for k := range m.c.Items() {
		if strings.HasPrefix(k, prefix) {
			m.c.Delete(k)
		}
	}
	return nil
}

// Accounts implements Backend.Accounts.
func (m *Memory) Accounts(_ context.Context) ([]string, error) {
	seen := map[string]struct{}{}
	for k := range m.c.Items() {
		if a, ok := keyAccount(k); ok {
			seen[a] = struct{}{}
		}
	}
	accounts := make([]string, 0, len(seen))
	for a := range seen {
		accounts = append(accounts, a)
	}
	sort.Strings(accounts)
	return accounts, nil
}

// memoryKey is "<len(account)>:<account><slot>".
func memoryKey(account, slot string) string {
	return accountPrefix(account) + slot
}

func accountPrefix(account string) string {
	return strconv.Itoa(len(account)) + ":" + account
}

func keyAccount(k string) (string, bool) {
	n, rest, ok := strings.Cut(k, ":")
	if !ok {
		return "", false
	}
	l, err := strconv.Atoi(n)
	if err != nil || l <= 0 || l > len(rest) {
		return "", false
	}
	return rest[:l], true
}
