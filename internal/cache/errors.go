package cache

import (
	"errors"
	"fmt"
)

// ErrCacheMiss is returned by Lookup when nothing is cached for a hash.
// It is control flow, not a failure.
var ErrCacheMiss = errors.New("cache miss")

// WriteError reports that a result could not be persisted. The result
// itself is still valid.
type WriteError struct {
	Hash string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write failed for %s: %v", e.Hash, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ComputationError wraps a compute function failure. Every caller waiting
// on the same hash receives the same ComputationError.
type ComputationError struct {
	Hash string
	Err  error
}

func (e *ComputationError) Error() string {
	return fmt.Sprintf("computation failed for %s: %v", e.Hash, e.Err)
}

func (e *ComputationError) Unwrap() error { return e.Err }
