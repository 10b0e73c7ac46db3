package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// CBOR stores the sentinel-tagged field tree as CBOR with core
// deterministic encoding (RFC 8949), so equal documents produce
// byte-identical payloads. The zero value is NOT ready to use; construct
// with NewCBOR or MustCBOR.
type CBOR struct {
	binder Binder
	enc    cbor.EncMode
	dec    cbor.DecMode
}

var _ Codec = CBOR{}

// NewCBOR constructs a CBOR codec. binder may be nil.
func NewCBOR(binder Binder) (CBOR, error) {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return CBOR{}, err
	}
	// decode nested maps as map[string]any so the sentinel walk sees the
	// same tree shape as the JSON and msgpack codecs
	dm, err := (cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}).DecMode()
	if err != nil {
		return CBOR{}, err
	}
	return CBOR{binder: binder, enc: em, dec: dm}, nil
}

// MustCBOR is like NewCBOR but panics on error. Handy for package-level
// variables in tests.
func MustCBOR(binder Binder) CBOR {
	c, err := NewCBOR(binder)
	if err != nil {
		panic(err)
	}
	return c
}

func (c CBOR) Encode(doc *document.Document) ([]byte, error) {
	tree, err := encodeFields(doc.Fields)
	if err != nil {
		return nil, err
	}
	return c.enc.Marshal(tree)
}

func (c CBOR) Decode(payload []byte, collection, id string) (*document.Document, error) {
	var tree map[string]any
	if err := c.dec.Unmarshal(payload, &tree); err != nil {
		return nil, &SerializationError{Msg: "invalid CBOR cache payload", Err: err}
	}
	fields, err := decodeFields(tree, c.binder)
	if err != nil {
		return nil, err
	}
	return &document.Document{ID: id, Collection: collection, Fields: fields}, nil
}
