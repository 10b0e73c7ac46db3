package datasource

import (
	"bytes"
	"context"
	"time"

	"github.com/brandturbo/apollo-datasource-firestore/codec"
	"github.com/brandturbo/apollo-datasource-firestore/document"
	"github.com/brandturbo/apollo-datasource-firestore/internal/keys"
	"github.com/brandturbo/apollo-datasource-firestore/loader"
	"github.com/brandturbo/apollo-datasource-firestore/provider"
	"github.com/brandturbo/apollo-datasource-firestore/store"
)

// tombstone marks a negative entry when Options.CacheMissing is enabled.
// It can never collide with codec output: every codec payload encodes a
// field map, and the sentinel prefix is rejected inside plain strings.
var tombstone = []byte("$$NotFound$$")

// DataSource composes the request-scoped loader, the shared backing cache
// and the codec into the operations a resolver layer consumes.
type DataSource struct {
	col    store.Collection
	cache  provider.Provider
	codec  codec.Codec
	loader *loader.Loader

	prefix       string
	defaultTTL   time.Duration
	cacheMissing bool
	ownsProvider bool

	log   Logger
	hooks Hooks
}

// Close releases the backing cache only when the data source owns it
// (i.e. the default in-process provider). Injected providers are shared
// across requests and stay open.
func (ds *DataSource) Close(ctx context.Context) error {
	if ds.ownsProvider {
		return ds.cache.Close(ctx)
	}
	return nil
}

func (ds *DataSource) key(id string) string {
	return keys.Document(ds.prefix, ds.col.Path(), id)
}

func (ds *DataSource) ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return ds.defaultTTL
	}
	return ttl
}

// FindOneByID returns the document for id, or nil when the store does not
// have it. A backing-cache hit bypasses the loader entirely; a miss goes
// through the loader's coalesced batch fetch and the result is written
// back with ttl (0 => Options.DefaultTTL). Not-found results are not
// written back unless Options.CacheMissing is set.
func (ds *DataSource) FindOneByID(ctx context.Context, id string, ttl time.Duration) (*document.Document, error) {
	k := ds.key(id)
	raw, ok, err := ds.cache.Get(ctx, k)
	if err != nil {
		return nil, err
	}
	if ok {
		if ds.cacheMissing && bytes.Equal(raw, tombstone) {
			ds.hooks.CacheHit(k)
			ds.log.Debug("negative cache hit", Fields{"key": k})
			return nil, nil
		}
		doc, derr := ds.codec.Decode(raw, ds.col.Path(), id)
		if derr != nil {
			// drop the unreadable entry so the next read can recover,
			// then let the caller distinguish "unreadable" from "absent"
			_ = ds.cache.Del(ctx, k)
			ds.hooks.SelfHeal(k, "decode")
			return nil, derr
		}
		ds.hooks.CacheHit(k)
		ds.log.Debug("cache hit", Fields{"key": k})
		return doc, nil
	}

	ds.hooks.CacheMiss(k)
	doc, err := ds.loader.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		if ds.cacheMissing {
			if err := ds.setRaw(ctx, k, tombstone, ttl); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}
	if err := ds.set(ctx, k, doc, ttl); err != nil {
		return nil, err
	}
	return doc, nil
}

// FindManyByIDs resolves each id through the backing cache first, batches
// all misses through one coalesced loader fetch, and reassembles results
// in the order of ids: nil at the position of any id the store does not
// have, never omitted.
func (ds *DataSource) FindManyByIDs(ctx context.Context, ids []string, ttl time.Duration) ([]*document.Document, error) {
	out := make([]*document.Document, len(ids))
	missIdx := make([]int, 0, len(ids))
	missIDs := make([]string, 0, len(ids))

	for i, id := range ids {
		k := ds.key(id)
		raw, ok, err := ds.cache.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		if ok {
			if ds.cacheMissing && bytes.Equal(raw, tombstone) {
				ds.hooks.CacheHit(k)
				continue // out[i] stays nil
			}
			doc, derr := ds.codec.Decode(raw, ds.col.Path(), id)
			if derr == nil {
				ds.hooks.CacheHit(k)
				out[i] = doc
				continue
			}
			// an unreadable entry inside a batch is healed and refetched
			// rather than failing the other ids
			_ = ds.cache.Del(ctx, k)
			ds.hooks.SelfHeal(k, "decode")
		}
		ds.hooks.CacheMiss(k)
		missIdx = append(missIdx, i)
		missIDs = append(missIDs, id)
	}

	if len(missIDs) == 0 {
		return out, nil
	}
	docs, err := ds.loader.LoadMany(ctx, missIDs)
	if err != nil {
		return nil, err
	}
	for j, doc := range docs {
		i, id := missIdx[j], missIDs[j]
		k := ds.key(id)
		if doc == nil {
			if ds.cacheMissing {
				if err := ds.setRaw(ctx, k, tombstone, ttl); err != nil {
					return nil, err
				}
			}
			continue
		}
		out[i] = doc
		if err := ds.set(ctx, k, doc, ttl); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DeleteFromCacheByID removes id from both tiers: the loader memo and the
// backing cache. The underlying store is untouched; callers delete from
// the store separately, then call this.
func (ds *DataSource) DeleteFromCacheByID(ctx context.Context, id string) error {
	ds.loader.Clear(id)
	k := ds.key(id)
	if err := ds.cache.Del(ctx, k); err != nil {
		return err
	}
	ds.log.Debug("cache invalidated", Fields{"key": k})
	return nil
}

// Prime writes documents through to both tiers without a store round
// trip, so reads immediately following a write do not refetch stale data.
// Nil documents are skipped. Backing-cache failures for individual
// documents are collected into a *PrimeError; the loader tier is primed
// regardless.
func (ds *DataSource) Prime(ctx context.Context, ttl time.Duration, docs ...*document.Document) error {
	var perr PrimeError
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		ds.loader.Prime(doc, true)
		if err := ds.set(ctx, ds.key(doc.ID), doc, ttl); err != nil {
			perr.IDs = append(perr.IDs, doc.ID)
			perr.Errs = append(perr.Errs, err)
		}
	}
	if len(perr.IDs) > 0 {
		return &perr
	}
	return nil
}

// set encodes and writes one document. A failed encode writes nothing.
func (ds *DataSource) set(ctx context.Context, key string, doc *document.Document, ttl time.Duration) error {
	payload, err := ds.codec.Encode(doc)
	if err != nil {
		return err
	}
	return ds.setRaw(ctx, key, payload, ttl)
}

func (ds *DataSource) setRaw(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	ok, err := ds.cache.Set(ctx, key, payload, int64(len(payload)), ds.ttlOrDefault(ttl))
	if err != nil {
		return err
	}
	if !ok {
		// entries are reconstructable projections; a rejected write is a
		// miss later, not a failure now
		ds.hooks.SetRejected(key)
		ds.log.Debug("backing cache rejected set (pressure)", Fields{"key": key})
	}
	return nil
}
