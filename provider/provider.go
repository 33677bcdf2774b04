// Package provider defines the hot-storage abstraction used by databank.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly
// the []byte previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding). The bank owns the framing of stored values; a
// foreign write under a bank's keys is treated as corruption and the item
// falls back to its source.
//
// Keys are slash-separated relative paths ("mesh/rock/lod0"). File-backed
// stores map them to files under their root; the others use them verbatim.
package provider

import (
	"context"
	"errors"
)

// ErrInvalidKey is returned when a key cannot be mapped into the store,
// e.g. it escapes a file store's root.
var ErrInvalidKey = errors.New("provider: invalid key")

// Provider is a persistent (or at least longer-lived than memory) byte
// store without expiry. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value. Returns ok=false when the store refused the write
	// (capacity, admission policy) without an IO error.
	Set(ctx context.Context, key string, value []byte) (ok bool, err error)

	// Del removes a key. Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Clear removes everything this provider stores.
	Clear(ctx context.Context) error

	// Close releases resources.
	Close(ctx context.Context) error
}
