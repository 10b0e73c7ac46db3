package codec

import (
	"github.com/vmihailenco/msgpack/v5"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Msgpack stores the sentinel-tagged field tree as msgpack. Smaller and
// faster than JSON, at the cost of opaque cache entries. The zero value
// is ready to use.
type Msgpack struct {
	Binder Binder
}

var _ Codec = Msgpack{}

func (c Msgpack) Encode(doc *document.Document) ([]byte, error) {
	tree, err := encodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}
	return msgpack.Marshal(tree)
}

func (c Msgpack) Decode(payload []byte, collection, id string) (*document.Document, error) {
	var tree map[string]any
	if err := msgpack.Unmarshal(payload, &tree); err != nil {
		return nil, &SerializationError{Msg: "invalid msgpack cache payload", Err: err}
	}
	fields, err := decodeFields(tree, c.Binder)
	if err != nil {
		return nil, err
	}
	return &document.Document{ID: id, Collection: collection, Fields: fields}, nil
}
