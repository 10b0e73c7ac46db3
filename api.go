package datasource

import (
	"fmt"
	"time"

	"github.com/brandturbo/apollo-datasource-firestore/codec"
	"github.com/brandturbo/apollo-datasource-firestore/loader"
	"github.com/brandturbo/apollo-datasource-firestore/provider"
	"github.com/brandturbo/apollo-datasource-firestore/provider/ristretto"
	"github.com/brandturbo/apollo-datasource-firestore/store"
)

// Options configure a request-scoped DataSource. Only Collection is
// required; everything else has a sensible default.
type Options struct {
	// Required. The store collection this data source reads and writes.
	Collection store.Collection

	// Provider is the backing cache, shared across requests and owned by
	// the caller. Nil => a private in-process ristretto cache, which the
	// data source then owns and closes.
	Provider provider.Provider

	// Codec translates documents to cache payloads. Nil => codec.JSON
	// with references bound to Collection.
	Codec codec.Codec

	// CachePrefix namespaces every key this instance writes, so multiple
	// tenants or deployments can share one backing cache.
	CachePrefix string

	Logger Logger // nil => NopLogger
	Hooks  Hooks  // nil => NopHooks

	// DefaultTTL applies when a call passes ttl 0. Zero means the
	// provider's own default retention.
	DefaultTTL time.Duration

	// CacheMissing stores a negative entry for ids the store does not
	// have, trading staleness-after-create for protection against
	// repeated lookups of a missing id. Default off: not-found results
	// are never written to the backing cache.
	CacheMissing bool

	// Batching knobs for the request-scoped loader; zero values use the
	// loader's defaults.
	LoaderWindow   time.Duration
	LoaderMaxBatch int
}

// New builds a fully-initialized DataSource for one request scope. It
// fails fast on an unusable collection handle; there is no uninitialized
// intermediate state.
func New(opts Options) (*DataSource, error) {
	if err := store.Validate(opts.Collection); err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}

	ds := &DataSource{
		col:          opts.Collection,
		prefix:       opts.CachePrefix,
		defaultTTL:   opts.DefaultTTL,
		cacheMissing: opts.CacheMissing,
	}
	ds.log = coalesce[Logger](opts.Logger, NopLogger{})
	ds.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	if opts.Provider != nil {
		ds.cache = opts.Provider
	} else {
		p, err := ristretto.New(ristretto.Config{})
		if err != nil {
			return nil, fmt.Errorf("datasource: default provider: %w", err)
		}
		ds.cache = p
		ds.ownsProvider = true
	}

	// Decoded references carry store-relative paths, so the zero-value
	// JSON codec needs no collection-specific binder.
	ds.codec = coalesce[codec.Codec](opts.Codec, codec.JSON{})

	l, err := loader.New(loader.Options{
		Fetch:    ds.col.BatchGet,
		Window:   opts.LoaderWindow,
		MaxBatch: opts.LoaderMaxBatch,
		OnDispatch: func(ids []string) {
			ds.hooks.BatchDispatched(ds.col.Path(), len(ids))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("datasource: %w", err)
	}
	ds.loader = l
	return ds, nil
}
