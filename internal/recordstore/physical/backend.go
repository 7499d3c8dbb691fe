// Package physical provides the physical storage backend interface for record stores.
package physical

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested record or object store was not found.
	ErrNotFound = errors.New("record not found")
	// ErrClosed indicates the backend has been closed.
	ErrClosed = errors.New("backend closed")
	// ErrInvalidStore indicates an object store name the backend cannot hold.
	ErrInvalidStore = errors.New("invalid object store name")
)

// Stats contains usage statistics for one object store.
type Stats struct {
	Records     int64
	SizeBytes   int64 // sum of stored value lengths
	BackendType string
}

// Backend is the physical storage interface for record stores.
// A backend holds any number of named object stores; each maps a
// uint64 sequence key to an opaque value. Every Put is its own
// transaction. All implementations must be thread-safe.
type Backend interface {
	// EnsureStore creates the named object store if it does not exist.
	EnsureStore(ctx context.Context, store string) error
	Put(ctx context.Context, store string, key uint64, value []byte) error
	Get(ctx context.Context, store string, key uint64) ([]byte, error)
	// LastKey returns the highest key in the store, or 0 when empty.
	LastKey(ctx context.Context, store string) (uint64, error)
	Stats(ctx context.Context, store string) (*Stats, error)
	// Clear removes every record from the store, keeping the store itself.
	Clear(ctx context.Context, store string) error
	Close() error
}

// EncodeKey encodes a sequence key so byte order matches numeric order.
func EncodeKey(key uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], key)
	return buf[:]
}

// DecodeKey reverses EncodeKey.
func DecodeKey(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("decode key: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// KeyName formats a sequence key as a fixed-width decimal string so that
// lexical order matches numeric order. Used by name-keyed backends.
func KeyName(key uint64) string {
	return fmt.Sprintf("%020d", key)
}

// ValidateStore rejects object store names that cannot be embedded in
// key prefixes or paths.
func ValidateStore(store string) error {
	if store == "" {
		return fmt.Errorf("%w: empty", ErrInvalidStore)
	}
	for _, r := range store {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidStore, store)
		}
	}
	return nil
}
