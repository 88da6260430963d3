package store

import (
	"errors"
	"fmt"
)

// ErrCorrupt marks a persisted value that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt value")

// StorageError is returned by every store operation that fails to read or
// write the underlying database. Callers decide how to recover.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
