// Package provider defines the backing-cache abstraction the data source
// writes encoded documents through.
//
// Implementations MUST be byte-for-byte transparent: Get must return
// exactly the same []byte previously passed to Set for a key. If a store
// performs internal transforms (e.g. compression), they MUST be fully
// reversed before Get returns.
//
// The keyspace "<prefix><collection>:<id>" is owned by the data source.
// Foreign writes under it may fail to decode and be deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with per-entry TTL. Must be safe for
// concurrent use; entries are disposable projections of the document
// store, never the source of truth, so last-write-wins races are fine.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// IO/remote failures return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value for ttl. A non-positive ttl means the store's own
	// default retention applies. Cost may be ignored by stores that do
	// not account for entry weight. Returns ok=false when the store
	// rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort).
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
