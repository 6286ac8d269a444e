package store

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// File is a Backend keeping one directory per account and one file per slot
// under a root directory. Slot files are replaced atomically.
type File struct {
	root string
}

var _ Backend = (*File)(nil)

// NewFile creates a File backend rooted at dir, creating it with mode 0700
// when missing.
func NewFile(dir string) (*File, error) {
	const op = "store.NewFile"
	if dir == "" {
		return nil, fmt.Errorf("%s: directory is empty: %w", op, ErrInvalidParameter)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &File{root: dir}, nil
}

// Get implements Backend.Get.
func (f *File) Get(_ context.Context, account, slot string) ([]byte, error) {
	const op = "File.Get"
	b, err := os.ReadFile(f.slotPath(account, slot))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

// Put implements Backend.Put.
func (f *File) Put(_ context.Context, account, slot string, value []byte) error {
	const op = "File.Put"
	if err := atomicWriteFile(f.slotPath(account, slot), value, 0o600); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Delete implements Backend.Delete.
func (f *File) Delete(_ context.Context, account, slot string) error {
	const op = "File.Delete"
	if err := os.Remove(f.slotPath(account, slot)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Remove implements Backend.Remove.
func (f *File) Remove(_ context.Context, account string) error {
	const op = "File.Remove"
	if err := os.RemoveAll(f.accountDir(account)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Accounts implements Backend.Accounts.
func (f *File) Accounts(_ context.Context) ([]string, error) {
	const op = "File.Accounts"
	entries, err := os.ReadDir(f.root)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	var accounts []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name, err := base64.RawURLEncoding.DecodeString(e.Name())
		if err != nil {
			continue
		}
		slots, err := os.ReadDir(filepath.Join(f.root, e.Name()))
		if err != nil || !hasSlotFile(slots) {
			continue
		}
		accounts = append(accounts, string(name))
	}
	sort.Strings(accounts)
	return accounts, nil
}

// account names may hold any character so directories and slot files use
// their base64url encoding.
func (f *File) accountDir(account string) string {
	return filepath.Join(f.root, base64.RawURLEncoding.EncodeToString([]byte(account)))
}

func (f *File) slotPath(account, slot string) string {
	return filepath.Join(f.accountDir(account), base64.RawURLEncoding.EncodeToString([]byte(slot)))
}

func hasSlotFile(entries []fs.DirEntry) bool {
	for _, e := range entries {
		if e.Type().IsRegular() && e.Name()[0] != '.' {
			return true
		}
	}
	return false
}

func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
