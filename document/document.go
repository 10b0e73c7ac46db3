// Package document defines the value types that flow through the data
// source: the Document unit of fetch/cache/store, and the field kinds the
// backing cache's textual format cannot represent natively.
package document

import "fmt"

// Document is a uniquely identified record within a named collection.
// ID and Collection are derived from store location and are never part of
// the persisted payload; Fields holds the stored data.
type Document struct {
	ID         string
	Collection string
	Fields     map[string]any
}

// Path returns the store-relative path of the document.
func (d *Document) Path() string {
	return d.Collection + "/" + d.ID
}

// Timestamp is a point in time split into seconds and nanoseconds,
// matching the store's native precision.
type Timestamp struct {
	Seconds int64
	Nanos   int64
}

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%09ds", t.Seconds, t.Nanos)
}

// GeoPoint is a geographic coordinate pair in degrees.
type GeoPoint struct {
	Latitude  float64
	Longitude float64
}

// Ref points at another document by its store-relative path,
// e.g. "users/42".
type Ref struct {
	Path string
}

func (r Ref) String() string { return r.Path }

// CloneFields deep-copies a field map so the copy is isolated from later
// mutation of the original. Maps and slices are copied; everything else
// is a value type and carried as is.
func CloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
