package port

import (
	"context"

	"github.com/rl1809/inventory-scan/internal/core/domain"
)

// RecordStore is the key-value store holding JSON-encoded records and their
// auxiliary index entries.
//
// Set, Exists and Keys complete the store contract for other writers and
// tooling that share the key space. The services here write with SetNX,
// ClaimCodes and Update and walk keys with Scan, never with Keys.
type RecordStore interface {
	// Get returns the value at key, or nil if the key does not exist
	Get(ctx context.Context, key string) ([]byte, error)

	// Set overwrites key unconditionally
	Set(ctx context.Context, key string, value []byte) error

	// SetNX writes value only if key is absent, returns false if it already exists
	SetNX(ctx context.Context, key string, value []byte) (bool, error)

	Exists(ctx context.Context, key string) (bool, error)

	// Keys lists every key matching pattern in one blocking call
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Scan runs one cursor step of an incremental key scan
	Scan(ctx context.Context, cursor uint64, pattern string, count int64) (next uint64, keys []string, err error)

	Del(ctx context.Context, keys ...string) error

	// ClaimCodes atomically reserves both codes for recordKey, returns false if
	// either code is already taken
	ClaimCodes(ctx context.Context, codes domain.LinkedCodes, recordKey string) (bool, error)

	// Update applies fn to the value at key under optimistic concurrency control
	Update(ctx context.Context, key string, fn func(current []byte) ([]byte, error)) error
}
