// Package storage provides the key-value persistence layer for wallet state:
// the wallet index, encrypted vault blobs, transaction history, endpoint
// tables and session records all live behind the DB interface.
package storage

import "errors"

// ErrNotFound is returned by Get when a key does not exist.
// Stores rely on errors.Is(err, ErrNotFound) to distinguish "absent" from
// a real storage failure.
var ErrNotFound = errors.New("storage: key not found")

// DB is the interface for key-value storage.
type DB interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	// ForEach iterates over all keys with the given prefix.
	// The callback receives a copy of the key and value.
	// Return a non-nil error from fn to stop iteration early.
	ForEach(prefix []byte, fn func(key, value []byte) error) error
	Close() error
}
