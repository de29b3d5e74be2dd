// Package genstore keeps per-key generation counters for the store's warm
// tier. A tier record written at generation g is trusted only while the
// key's generation is still g. Removing a query bumps it, which orphans every
// record written before the removal, including writes still in flight.
package genstore

import "context"

// GenStore holds the generations. Implementations must be safe for
// concurrent use.
type GenStore interface {
	// Snapshot returns the key's generation; an unknown key is at 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump increments the generation and returns the new value.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	Close(ctx context.Context) error
}
