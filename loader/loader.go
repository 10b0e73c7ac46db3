// Package loader implements the request-scoped batching tier: concurrent
// lookups by id issued within a short window collapse into a single aligned
// batch fetch, and every outcome (found or not) is memoized for the
// lifetime of the loader.
//
// A Loader must not outlive its request. Its memo has no eviction and no
// TTL; reusing one across requests leaks stale reads.
package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/brandturbo/apollo-datasource-firestore/document"
)

// Fetch retrieves documents for ids in one store round trip. The returned
// slice must align with ids: position i holds the document for ids[i], or
// nil when the store does not have it.
type Fetch func(ctx context.Context, ids []string) ([]*document.Document, error)

const (
	defaultWindow   = 250 * time.Microsecond
	defaultMaxBatch = 100
)

// Options tune a Loader. Only Fetch is required.
type Options struct {
	// Required. One batched store round trip.
	Fetch Fetch

	// Window is how long the first Load in a batch waits for company
	// before the batch is dispatched. 0 => 250µs.
	Window time.Duration

	// MaxBatch dispatches a batch early once it holds this many ids.
	// 0 => 100.
	MaxBatch int

	// OnDispatch, if set, is called once per store round trip with the
	// batch's ids. Must be cheap.
	OnDispatch func(ids []string)
}

// Loader coalesces and memoizes by-id lookups for one request.
type Loader struct {
	fetch      Fetch
	window     time.Duration
	maxBatch   int
	onDispatch func([]string)

	mu    sync.Mutex
	memo  map[string]*thunk
	batch *batch
}

// thunk is one id's pending or resolved outcome. done is closed exactly
// once, after doc and err are set.
type thunk struct {
	done chan struct{}
	doc  *document.Document
	err  error
}

func (t *thunk) wait(ctx context.Context) (*document.Document, error) {
	select {
	case <-t.done:
		return t.doc, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func resolved(doc *document.Document) *thunk {
	t := &thunk{done: make(chan struct{}), doc: doc}
	close(t.done)
	return t
}

type batch struct {
	ctx        context.Context
	ids        []string
	thunks     []*thunk
	dispatched bool
}

// New builds a Loader for a single request scope.
func New(opts Options) (*Loader, error) {
	if opts.Fetch == nil {
		return nil, fmt.Errorf("loader: fetch function is required")
	}
	l := &Loader{
		fetch:      opts.Fetch,
		window:     opts.Window,
		maxBatch:   opts.MaxBatch,
		onDispatch: opts.OnDispatch,
		memo:       make(map[string]*thunk),
	}
	if l.window <= 0 {
		l.window = defaultWindow
	}
	if l.maxBatch <= 0 {
		l.maxBatch = defaultMaxBatch
	}
	return l, nil
}

// Load returns the document for id, or nil when the store does not have
// it. Concurrent Loads for the same id within one window share a single
// fetch; ids already resolved return immediately from the memo.
func (l *Loader) Load(ctx context.Context, id string) (*document.Document, error) {
	return l.loadThunk(ctx, id).wait(ctx)
}

// LoadMany is Load over a slice. The result aligns with ids: missing
// documents are nil at their position, never omitted. A failed batch fails
// every id in it.
func (l *Loader) LoadMany(ctx context.Context, ids []string) ([]*document.Document, error) {
	thunks := make([]*thunk, len(ids))
	for i, id := range ids {
		thunks[i] = l.loadThunk(ctx, id)
	}
	out := make([]*document.Document, len(ids))
	for i, t := range thunks {
		doc, err := t.wait(ctx)
		if err != nil {
			return nil, err
		}
		out[i] = doc
	}
	return out, nil
}

// Prime injects a known-good document into the memo without a store round
// trip. With overwrite false, an existing entry is left untouched.
func (l *Loader) Prime(doc *document.Document, overwrite bool) {
	if doc == nil {
		return
	}
	l.mu.Lock()
	if _, ok := l.memo[doc.ID]; !ok || overwrite {
		l.memo[doc.ID] = resolved(doc)
	}
	l.mu.Unlock()
}

// Clear drops an id's memoized outcome so the next Load fetches again.
func (l *Loader) Clear(id string) {
	l.mu.Lock()
	delete(l.memo, id)
	l.mu.Unlock()
}

func (l *Loader) loadThunk(ctx context.Context, id string) *thunk {
	l.mu.Lock()
	if t, ok := l.memo[id]; ok {
		l.mu.Unlock()
		return t
	}
	t := &thunk{done: make(chan struct{})}
	l.memo[id] = t

	if l.batch == nil {
		b := &batch{ctx: ctx}
		l.batch = b
		time.AfterFunc(l.window, func() { l.dispatch(b) })
	}
	b := l.batch
	b.ids = append(b.ids, id)
	b.thunks = append(b.thunks, t)
	full := len(b.ids) >= l.maxBatch
	if full {
		l.batch = nil
	}
	l.mu.Unlock()

	if full {
		go l.dispatch(b)
	}
	return t
}

// dispatch runs at most once per batch: either when the window timer fires
// or when the batch filled early, whichever comes first.
func (l *Loader) dispatch(b *batch) {
	l.mu.Lock()
	if b.dispatched {
		l.mu.Unlock()
		return
	}
	b.dispatched = true
	if l.batch == b {
		l.batch = nil
	}
	ids, thunks := b.ids, b.thunks
	l.mu.Unlock()

	if l.onDispatch != nil {
		l.onDispatch(ids)
	}

	// The batch carries the first caller's values but not its cancellation:
	// an aborted request must not kill the fetch for every other waiter.
	// Callers that gave up stop waiting in thunk.wait instead.
	docs, err := l.fetch(context.WithoutCancel(b.ctx), ids)
	if err == nil && len(docs) != len(ids) {
		err = fmt.Errorf("loader: fetch returned %d results for %d ids", len(docs), len(ids))
	}
	for i, t := range thunks {
		if err != nil {
			t.err = err
		} else {
			t.doc = docs[i]
		}
		close(t.done)
	}
}
