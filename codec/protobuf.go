package codec

import (
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Protobuf stores the sentinel-tagged field tree as a protobuf-encoded
// structpb.Struct. No generated message types are needed: the sentinel
// pass reduces every field to the JSON-like kinds structpb carries
// natively (null, bool, float64, string, list, struct). Useful when the
// backing cache is shared with consumers that already speak protobuf.
// The zero value is ready to use.
type Protobuf struct {
	Binder Binder
}

var _ Codec = Protobuf{}

func (c Protobuf) Encode(doc *document.Document) ([]byte, error) {
	tree, err := encodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}
	s, err := structpb.NewStruct(tree)
	if err != nil {
		return nil, &SerializationError{Msg: "field tree not representable as structpb", Err: err}
	}
	return proto.Marshal(s)
}

func (c Protobuf) Decode(payload []byte, collection, id string) (*document.Document, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return nil, &SerializationError{Msg: "invalid protobuf cache payload", Err: err}
	}
	fields, err := decodeFields(s.AsMap(), c.Binder)
	if err != nil {
		return nil, err
	}
	return &document.Document{ID: id, Collection: collection, Fields: fields}, nil
}
