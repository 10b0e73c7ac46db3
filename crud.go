package datasource

import (
	"context"
	"time"

	"github.com/brandturbo/apollo-datasource-firestore/document"
	"github.com/brandturbo/apollo-datasource-firestore/store"
)

// The operations below are thin write-through glue: they call the store,
// then prime or invalidate both cache tiers so a read immediately after a
// write does not observe stale data. Store failures propagate unmodified;
// a returned *PrimeError means the store write succeeded but the backing
// cache could not be updated.

// CreateOne adds a new document to the store and primes both tiers. The
// primed document snapshots fields; the caller keeps ownership of the map.
func (ds *DataSource) CreateOne(ctx context.Context, fields map[string]any, ttl time.Duration) (*document.Document, error) {
	id, err := ds.col.Add(ctx, fields)
	if err != nil {
		return nil, err
	}
	doc := &document.Document{ID: id, Collection: ds.col.Path(), Fields: document.CloneFields(fields)}
	return doc, ds.Prime(ctx, ttl, doc)
}

// UpdateOne replaces the document with the given id and primes both tiers.
// Like CreateOne, the primed document snapshots fields.
func (ds *DataSource) UpdateOne(ctx context.Context, id string, fields map[string]any, ttl time.Duration) (*document.Document, error) {
	if err := ds.col.Set(ctx, id, fields, false); err != nil {
		return nil, err
	}
	doc := &document.Document{ID: id, Collection: ds.col.Path(), Fields: document.CloneFields(fields)}
	return doc, ds.Prime(ctx, ttl, doc)
}

// UpdateOnePartial merges fields into the document with the given id. The
// merged result is only known to the store, so it is read back before
// priming.
func (ds *DataSource) UpdateOnePartial(ctx context.Context, id string, fields map[string]any, ttl time.Duration) (*document.Document, error) {
	if err := ds.col.Set(ctx, id, fields, true); err != nil {
		return nil, err
	}
	doc, err := ds.col.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return doc, ds.Prime(ctx, ttl, doc)
}

// DeleteOne deletes the document from the store and invalidates both
// cache tiers.
func (ds *DataSource) DeleteOne(ctx context.Context, id string) error {
	if err := ds.col.Delete(ctx, id); err != nil {
		return err
	}
	return ds.DeleteFromCacheByID(ctx, id)
}

// FindManyByQuery runs a store query, primes every result into both tiers
// and returns the results directly. Query results are never read from the
// cache; only subsequent by-id lookups benefit.
func (ds *DataSource) FindManyByQuery(ctx context.Context, ttl time.Duration, filters ...store.Filter) ([]*document.Document, error) {
	docs, err := ds.col.Query(ctx, filters...)
	if err != nil {
		return nil, err
	}
	if err := ds.Prime(ctx, ttl, docs...); err != nil {
		return docs, err
	}
	return docs, nil
}
