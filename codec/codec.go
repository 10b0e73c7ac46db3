// Package codec converts documents to and from the payload stored in a
// plain-text key-value cache.
//
// Field kinds the cache format cannot carry natively (timestamps, geo
// points, document references) are encoded as sentinel-prefixed strings:
//
//	$$Timestamp$$:<seconds>:<nanos>
//	$$GeoPoint$$:<latitude>:<longitude>
//	$$DocumentReference$$:<path>
//
// The sentinel prefix is reserved: Encode fails with a SerializationError
// when a plain string field collides with it, so an ambiguous entry is
// never written. Sentinel fields use canonical numeric formatting, which
// makes re-encoding a decoded document reproduce the identical payload.
//
// Numeric fields are float64, full stop. Integer and float32 kinds are
// rejected at encode time: the wire formats disagree on how to hand them
// back (JSON loses int64 precision, msgpack returns int64, CBOR returns
// uint64), so accepting them would break decode(encode(doc)) == doc.
//
// A document's ID and Collection are never part of the payload; Decode
// reattaches them from the cache-key context.
package codec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Codec is the translation boundary between documents and cache payloads.
type Codec interface {
	Encode(doc *document.Document) ([]byte, error)
	Decode(payload []byte, collection, id string) (*document.Document, error)
}

// Binder resolves a decoded reference path into a Ref scoped to a store.
// A nil Binder yields bare path references.
type Binder interface {
	BindRef(path string) document.Ref
}

// BinderFunc adapts a function to the Binder interface.
type BinderFunc func(path string) document.Ref

func (f BinderFunc) BindRef(path string) document.Ref { return f(path) }

// SerializationError reports a value the codec cannot encode or decode.
// It lets callers tell "document does not exist" apart from "document
// exists but is unreadable".
type SerializationError struct {
	Path string // dotted field path to the offending value; empty for whole-payload failures
	Msg  string
	Err  error
}

func (e *SerializationError) Error() string {
	at := ""
	if e.Path != "" {
		at = fmt.Sprintf(" at %q", e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("codec: %s%s: %v", e.Msg, at, e.Err)
	}
	return fmt.Sprintf("codec: %s%s", e.Msg, at)
}

func (e *SerializationError) Unwrap() error { return e.Err }

const (
	sentinelMark = "$$"

	kindTimestamp = "Timestamp"
	kindGeoPoint  = "GeoPoint"
	kindReference = "DocumentReference"
)

// encodeFields maps a document's fields onto a tree of wire-native values:
// maps, slices, strings, numbers, bools and nil.
func encodeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		ev, err := encodeValue(v, k)
		if err != nil {
			return nil, err
		}
		out[k] = ev
	}
	return out, nil
}

func encodeValue(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case document.Timestamp:
		return encodeTimestamp(t), nil
	case *document.Timestamp:
		return encodeTimestamp(*t), nil
	case document.GeoPoint:
		return encodeGeoPoint(t), nil
	case *document.GeoPoint:
		return encodeGeoPoint(*t), nil
	case document.Ref:
		return sentinel(kindReference, t.Path), nil
	case *document.Ref:
		return sentinel(kindReference, t.Path), nil
	case string:
		if isSentinel(t) {
			return nil, &SerializationError{Path: path, Msg: "plain string collides with the reserved sentinel prefix"}
		}
		return t, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			ev, err := encodeValue(e, path+"."+k)
			if err != nil {
				return nil, err
			}
			out[k] = ev
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			ev, err := encodeValue(e, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out[i] = ev
		}
		return out, nil
	case bool, float64:
		return t, nil
	case float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return nil, &SerializationError{Path: path, Msg: fmt.Sprintf("non-canonical numeric kind %T; convert to float64", v)}
	default:
		return nil, &SerializationError{Path: path, Msg: fmt.Sprintf("unsupported value kind %T", v)}
	}
}

// decodeFields reverses encodeFields, reconstructing tagged values from
// sentinel strings. Everything else passes through unchanged.
func decodeFields(tree map[string]any, binder Binder) (map[string]any, error) {
	out := make(map[string]any, len(tree))
	for k, v := range tree {
		dv, err := decodeValue(v, k, binder)
		if err != nil {
			return nil, err
		}
		out[k] = dv
	}
	return out, nil
}

func decodeValue(v any, path string, binder Binder) (any, error) {
	switch t := v.(type) {
	case string:
		if !isSentinel(t) {
			return t, nil
		}
		return decodeSentinel(t, path, binder)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			dv, err := decodeValue(e, path+"."+k, binder)
			if err != nil {
				return nil, err
			}
			out[k] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			dv, err := decodeValue(e, fmt.Sprintf("%s[%d]", path, i), binder)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return v, nil
	}
}

func sentinel(kind, payload string) string {
	return sentinelMark + kind + sentinelMark + ":" + payload
}

// isSentinel reports whether s has the "$$<Kind>$$:" shape.
func isSentinel(s string) bool {
	if !strings.HasPrefix(s, sentinelMark) {
		return false
	}
	rest := s[len(sentinelMark):]
	i := strings.Index(rest, sentinelMark+":")
	return i > 0
}

func encodeTimestamp(t document.Timestamp) string {
	return sentinel(kindTimestamp,
		strconv.FormatInt(t.Seconds, 10)+":"+strconv.FormatInt(t.Nanos, 10))
}

func encodeGeoPoint(g document.GeoPoint) string {
	return sentinel(kindGeoPoint,
		formatFloat(g.Latitude)+":"+formatFloat(g.Longitude))
}

// formatFloat is the canonical float form; round-trip stability of
// re-encoded payloads depends on it.
func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func decodeSentinel(s, path string, binder Binder) (any, error) {
	rest := s[len(sentinelMark):]
	i := strings.Index(rest, sentinelMark+":")
	kind := rest[:i]
	payload := rest[i+len(sentinelMark)+1:]

	switch kind {
	case kindTimestamp:
		secs, nanos, ok := splitPair(payload)
		if !ok {
			return nil, &SerializationError{Path: path, Msg: "malformed Timestamp sentinel"}
		}
		sec, err := strconv.ParseInt(secs, 10, 64)
		if err != nil {
			return nil, &SerializationError{Path: path, Msg: "malformed Timestamp seconds", Err: err}
		}
		ns, err := strconv.ParseInt(nanos, 10, 64)
		if err != nil {
			return nil, &SerializationError{Path: path, Msg: "malformed Timestamp nanoseconds", Err: err}
		}
		return document.Timestamp{Seconds: sec, Nanos: ns}, nil

	case kindGeoPoint:
		lat, lng, ok := splitPair(payload)
		if !ok {
			return nil, &SerializationError{Path: path, Msg: "malformed GeoPoint sentinel"}
		}
		latf, err := strconv.ParseFloat(lat, 64)
		if err != nil {
			return nil, &SerializationError{Path: path, Msg: "malformed GeoPoint latitude", Err: err}
		}
		lngf, err := strconv.ParseFloat(lng, 64)
		if err != nil {
			return nil, &SerializationError{Path: path, Msg: "malformed GeoPoint longitude", Err: err}
		}
		return document.GeoPoint{Latitude: latf, Longitude: lngf}, nil

	case kindReference:
		if binder != nil {
			return binder.BindRef(payload), nil
		}
		return document.Ref{Path: payload}, nil

	default:
		return nil, &SerializationError{Path: path, Msg: fmt.Sprintf("unknown sentinel kind %q", kind)}
	}
}

// splitPair splits a two-field sentinel payload. The second field must not
// contain the separator.
func splitPair(payload string) (string, string, bool) {
	a, b, ok := strings.Cut(payload, ":")
	if !ok || a == "" || b == "" || strings.Contains(b, ":") {
		return "", "", false
	}
	return a, b, true
}
