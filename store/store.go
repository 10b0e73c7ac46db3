// Package store defines the contract the data source requires from a
// document store. The data source never manages connections, retries or
// write durability; those belong to the Collection implementation.
package store

import (
	"context"
	"errors"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Filter is a single field comparison applied by Query.
// Op is one of "==", "<", "<=", ">", ">=".
type Filter struct {
	Field string
	Op    string
	Value any
}

// Collection is the typed capability a document store must satisfy.
//
// Get and BatchGet report "not found" as a nil document, never as an error.
// BatchGet results MUST align with ids: position i holds the document for
// ids[i], or nil when the store does not have it.
type Collection interface {
	// Path returns the collection's store-relative path. Must be non-empty.
	Path() string

	// Doc returns a reference to the document with the given id.
	Doc(id string) document.Ref

	Get(ctx context.Context, id string) (*document.Document, error)
	BatchGet(ctx context.Context, ids []string) ([]*document.Document, error)

	// Add stores a new document and returns its generated id.
	Add(ctx context.Context, fields map[string]any) (string, error)

	// Set writes the document with the given id. With merge, existing
	// fields not present in fields are kept; otherwise they are replaced.
	Set(ctx context.Context, id string, fields map[string]any, merge bool) error

	Delete(ctx context.Context, id string) error

	// Query returns every document matching all filters, in store order.
	Query(ctx context.Context, filters ...Filter) ([]*document.Document, error)
}

// ErrInvalidCollection is returned by Validate for handles that cannot
// back a data source.
var ErrInvalidCollection = errors.New("store: collection handle is nil or has an empty path")

// Validate checks a handle against the Collection contract. The data
// source calls it at construction time so a bad handle fails fast instead
// of on first use.
func Validate(c Collection) error {
	if c == nil || c.Path() == "" {
		return ErrInvalidCollection
	}
	return nil
}
