package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Memory is an in-process Collection keeping documents in a map. It backs
// tests and local development; production deployments inject a real store
// client instead.
type Memory struct {
	path string

	mu   sync.RWMutex
	docs map[string]map[string]any
	seq  uint64
}

var _ Collection = (*Memory)(nil)

// NewMemory returns an empty in-memory collection at the given path.
func NewMemory(path string) *Memory {
	return &Memory{
		path: path,
		docs: make(map[string]map[string]any),
	}
}

func (m *Memory) Path() string { return m.path }

func (m *Memory) Doc(id string) document.Ref {
	return document.Ref{Path: m.path + "/" + id}
}

func (m *Memory) Get(_ context.Context, id string) (*document.Document, error) {
	m.mu.RLock()
	fields, ok := m.docs[id]
	m.mu.RUnlock()
	if !ok {
		return nil, nil
	}
	return m.doc(id, fields), nil
}

func (m *Memory) BatchGet(_ context.Context, ids []string) ([]*document.Document, error) {
	out := make([]*document.Document, len(ids))
	m.mu.RLock()
	for i, id := range ids {
		if fields, ok := m.docs[id]; ok {
			out[i] = m.doc(id, fields)
		}
	}
	m.mu.RUnlock()
	return out, nil
}

func (m *Memory) Add(_ context.Context, fields map[string]any) (string, error) {
	m.mu.Lock()
	m.seq++
	id := fmt.Sprintf("%016x", m.seq)
	m.docs[id] = document.CloneFields(fields)
	m.mu.Unlock()
	return id, nil
}

func (m *Memory) Set(_ context.Context, id string, fields map[string]any, merge bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if merge {
		existing, ok := m.docs[id]
		if !ok {
			existing = make(map[string]any, len(fields))
			m.docs[id] = existing
		}
		for k, v := range document.CloneFields(fields) {
			existing[k] = v
		}
		return nil
	}
	m.docs[id] = document.CloneFields(fields)
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.docs, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Query(_ context.Context, filters ...Filter) ([]*document.Document, error) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.docs))
	for id := range m.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids) // deterministic store order

	var out []*document.Document
	for _, id := range ids {
		fields := m.docs[id]
		match := true
		for _, f := range filters {
			ok, err := matches(fields[f.Field], f)
			if err != nil {
				m.mu.RUnlock()
				return nil, err
			}
			if !ok {
				match = false
				break
			}
		}
		if match {
			out = append(out, m.doc(id, fields))
		}
	}
	m.mu.RUnlock()
	return out, nil
}

// doc snapshots the stored fields so callers cannot mutate the store
// through a returned document. Callers must hold at least a read lock.
func (m *Memory) doc(id string, fields map[string]any) *document.Document {
	return &document.Document{
		ID:         id,
		Collection: m.path,
		Fields:     document.CloneFields(fields),
	}
}

func matches(have any, f Filter) (bool, error) {
	if f.Op == "==" {
		return have == f.Value, nil
	}
	cmp, ok := compare(have, f.Value)
	if !ok {
		return false, nil // incomparable values never match ordered filters
	}
	switch f.Op {
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, fmt.Errorf("store: unsupported filter op %q", f.Op)
	}
}

func compare(a, b any) (int, bool) {
	if as, ok := a.(string); ok {
		bs, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(as, bs), true
	}
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return 0, false
	}
	switch {
	case af < bf:
		return -1, true
	case af > bf:
		return 1, true
	default:
		return 0, true
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
