package databank

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound           = errors.New("databank: key not registered")
	ErrClosed             = errors.New("databank: bank closed")
	ErrHotStorageDisabled = errors.New("databank: hot storage disabled")
	ErrInvalidTier        = errors.New("databank: invalid target tier")

	errNotSerializable = errors.New("databank: value refuses serialization")
	errHotCopyMissing  = errors.New("databank: hot copy missing")
	errStale           = errors.New("databank: hot copy stale")
	errRejected        = errors.New("databank: provider rejected write")
)

// DuplicateKeyError is returned by Add when key is already registered.
type DuplicateKeyError struct {
	Key string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("databank: key %q already registered", e.Key)
}

// LoadError is returned by Data when the value could not be materialized.
// Err is the load job's failure, if one was recorded.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("databank: load %q: not loaded", e.Key)
	}
	return fmt.Sprintf("databank: load %q: %v", e.Key, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// AccessError describes a hot-storage failure. The bank logs it and falls
// back to the source; it only reaches callers wrapped in a LoadError.
// Op ∈ {"read", "write", "decode", "encode", "delete", "peek"}.
type AccessError struct {
	Key string
	Op  string
	Err error
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("databank: hot storage %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *AccessError) Unwrap() error { return e.Err }
