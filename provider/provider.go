// Package provider defines the byte store behind the query store's optional
// warm tier.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The keyspace "tier:<ns>:" is owned by querycache. Foreign writes under this
// prefix are treated as corruption and deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit and (nil, false, nil) on miss.
	// An I/O failure is (nil, false, err); the store treats it as a miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a framed record. cost comes from Options.ComputeSetCost and
	// ttl from Options.TierTTL; a provider may ignore either. ok=false means
	// the write was refused under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	Close(ctx context.Context) error
}
