package codec

import (
	"encoding/json"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// JSON stores documents as sentinel-tagged JSON text. The zero value is
// ready to use; set Binder to scope decoded references to a store.
//
// JSON is the default codec: its output is human-readable in the cache and
// map keys marshal in sorted order, so equal documents produce identical
// payloads.
type JSON struct {
	Binder Binder
}

var _ Codec = JSON{}

func (c JSON) Encode(doc *document.Document) ([]byte, error) {
	tree, err := encodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

func (c JSON) Decode(payload []byte, collection, id string) (*document.Document, error) {
	var tree map[string]any
	if err := json.Unmarshal(payload, &tree); err != nil {
		return nil, &SerializationError{Msg: "invalid JSON cache payload", Err: err}
	}
	fields, err := decodeFields(tree, c.Binder)
	if err != nil {
		return nil, err
	}
	return &document.Document{ID: id, Collection: collection, Fields: fields}, nil
}
