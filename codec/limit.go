package codec

import (
	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Limit wraps another codec to enforce a maximum payload size at Decode
// time. Encode is forwarded unchanged. MaxDecode <= 0 disables the check.
//
// Typical use: protect against oversized entries written to a shared
// backing cache by another tenant.
type Limit struct {
	Inner     Codec
	MaxDecode int
}

var _ Codec = Limit{}

func (c Limit) Encode(doc *document.Document) ([]byte, error) {
	return c.Inner.Encode(doc)
}

func (c Limit) Decode(payload []byte, collection, id string) (*document.Document, error) {
	if c.MaxDecode > 0 && len(payload) > c.MaxDecode {
		return nil, &SerializationError{
			Msg: "cache payload exceeds decode limit",
		}
	}
	return c.Inner.Decode(payload, collection, id)
}
