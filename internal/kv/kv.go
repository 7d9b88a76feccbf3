// Package kv provides the byte key-value store behind the persistent
// embedding cache. A BadgerDB implementation is used on disk and an
// in-memory one in tests.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in the store.
var ErrNotFound = errors.New("kv: not found")

// Entry is a key-value pair used by BatchSet.
type Entry struct {
	Key   []byte
	Value []byte
}

// Store is a minimal byte-keyed store.
type Store interface {
	// Get retrieves the value for a key. Returns ErrNotFound if not present.
	Get(ctx context.Context, key []byte) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key, value []byte) error

	// BatchSet stores multiple pairs in one write batch.
	BatchSet(ctx context.Context, entries []Entry) error

	// Close releases any resources held by the store.
	Close() error
}
