package datasource

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/brandturbo/apollo-datasource-firestore/codec"
	"github.com/brandturbo/apollo-datasource-firestore/document"
	"github.com/brandturbo/apollo-datasource-firestore/provider"
	"github.com/brandturbo/apollo-datasource-firestore/store"
)

type memEntry struct {
	v   []byte
	ttl time.Duration
}

type memProvider struct {
	mu         sync.Mutex
	m          map[string]memEntry
	rejectSets bool
	setErr     error
	closed     bool
}

var _ provider.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider { return &memProvider{m: make(map[string]memEntry)} }

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if p.setErr != nil {
		return false, p.setErr
	}
	if p.rejectSets {
		return false, nil
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, ttl: ttl}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error {
	p.closed = true
	return nil
}

// countingCollection wraps the in-memory store and counts read traffic so
// tests can assert which tier served a lookup.
type countingCollection struct {
	*store.Memory
	mu        sync.Mutex
	batchGets int
	batches   [][]string
	queries   int
}

func newCountingCollection(path string) *countingCollection {
	return &countingCollection{Memory: store.NewMemory(path)}
}

func (c *countingCollection) BatchGet(ctx context.Context, ids []string) ([]*document.Document, error) {
	c.mu.Lock()
	c.batchGets++
	c.batches = append(c.batches, append([]string(nil), ids...))
	c.mu.Unlock()
	return c.Memory.BatchGet(ctx, ids)
}

func (c *countingCollection) Query(ctx context.Context, filters ...store.Filter) ([]*document.Document, error) {
	c.mu.Lock()
	c.queries++
	c.mu.Unlock()
	return c.Memory.Query(ctx, filters...)
}

func (c *countingCollection) fetchCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batchGets
}

func newTestDS(t *testing.T, col store.Collection, mp provider.Provider, optsOpt func(*Options)) *DataSource {
	t.Helper()
	opts := Options{
		Collection:  col,
		Provider:    mp,
		CachePrefix: "app",
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	ds, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return ds
}

// TestFindOneByIDScenario runs the canonical flow: empty cache, one store
// fetch, one cache set under "<prefix><collection>:<id>" with the
// timestamp encoded as a sentinel; the second read is served entirely by
// the backing cache.
func TestFindOneByIDScenario(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	lastSeen := document.Timestamp{Seconds: 1690000000, Nanos: 0}
	if err := col.Set(ctx, "42", map[string]any{"name": "Ada", "lastSeen": lastSeen}, false); err != nil {
		t.Fatalf("seed: %v", err)
	}
	mp := newMemProvider()
	ds := newTestDS(t, col, mp, nil)

	doc, err := ds.FindOneByID(ctx, "42", 0)
	if err != nil {
		t.Fatalf("FindOneByID: %v", err)
	}
	if doc == nil || doc.ID != "42" || doc.Collection != "users" || doc.Fields["name"] != "Ada" {
		t.Fatalf("unexpected document: %#v", doc)
	}
	if got := col.fetchCount(); got != 1 {
		t.Fatalf("expected 1 store fetch, got %d", got)
	}

	mp.mu.Lock()
	entry, ok := mp.m["appusers:42"]
	mp.mu.Unlock()
	if !ok {
		t.Fatalf("expected cache entry under appusers:42, have %v", keysOf(mp))
	}
	if !strings.Contains(string(entry.v), "$$Timestamp$$:1690000000:0") {
		t.Fatalf("cached payload missing timestamp sentinel: %s", entry.v)
	}

	again, err := ds.FindOneByID(ctx, "42", 0)
	if err != nil {
		t.Fatalf("second FindOneByID: %v", err)
	}
	if got := col.fetchCount(); got != 1 {
		t.Fatalf("cache hit must not fetch; got %d fetches", got)
	}
	if !reflect.DeepEqual(again.Fields["lastSeen"], lastSeen) {
		t.Fatalf("decoded lastSeen mismatch: %#v", again.Fields["lastSeen"])
	}
}

func keysOf(p *memProvider) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.m))
	for k := range p.m {
		out = append(out, k)
	}
	return out
}

// Ordering is a correctness requirement: results align with the requested
// ids, nil where the store has nothing.
func TestFindManyByIDsOrdering(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	for _, id := range []string{"a", "b", "c"} {
		_ = col.Set(ctx, id, map[string]any{"n": id}, false)
	}
	ds := newTestDS(t, col, newMemProvider(), nil)

	got, err := ds.FindManyByIDs(ctx, []string{"b", "a", "missing", "c"}, 0)
	if err != nil {
		t.Fatalf("FindManyByIDs: %v", err)
	}
	want := []string{"b", "a", "", "c"}
	if len(got) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(got))
	}
	for i, id := range want {
		if id == "" {
			if got[i] != nil {
				t.Fatalf("position %d: expected nil, got %v", i, got[i])
			}
			continue
		}
		if got[i] == nil || got[i].ID != id {
			t.Fatalf("position %d: expected %q, got %v", i, id, got[i])
		}
	}
	if got := col.fetchCount(); got != 1 {
		t.Fatalf("expected 1 coalesced fetch, got %d", got)
	}
}

// Cache hits and loader misses interleave back into input order, and only
// the misses reach the store.
func TestFindManyByIDsMixedTiers(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "a", map[string]any{"n": "a"}, false)
	_ = col.Set(ctx, "b", map[string]any{"n": "b"}, false)
	ds := newTestDS(t, col, newMemProvider(), nil)

	if _, err := ds.FindOneByID(ctx, "a", 0); err != nil {
		t.Fatalf("warm a: %v", err)
	}

	got, err := ds.FindManyByIDs(ctx, []string{"a", "b"}, 0)
	if err != nil {
		t.Fatalf("FindManyByIDs: %v", err)
	}
	if got[0] == nil || got[0].ID != "a" || got[1] == nil || got[1].ID != "b" {
		t.Fatalf("misassembled results: %v", got)
	}

	col.mu.Lock()
	defer col.mu.Unlock()
	if col.batchGets != 2 {
		t.Fatalf("expected 2 fetches total, got %d", col.batchGets)
	}
	if !reflect.DeepEqual(col.batches[1], []string{"b"}) {
		t.Fatalf("second fetch should only carry the miss, got %v", col.batches[1])
	}
}

// After Prime, reads are served without any store call: from the backing
// cache, and from the loader memo when the backing cache cannot hold the
// entry.
func TestPrimeServesReadsWithoutStore(t *testing.T) {
	ctx := context.Background()
	doc := &document.Document{ID: "7", Collection: "users", Fields: map[string]any{"n": "x"}}

	t.Run("backing_cache_tier", func(t *testing.T) {
		col := newCountingCollection("users")
		ds := newTestDS(t, col, newMemProvider(), nil)
		if err := ds.Prime(ctx, 0, doc); err != nil {
			t.Fatalf("Prime: %v", err)
		}
		got, err := ds.FindOneByID(ctx, "7", 0)
		if err != nil || got == nil || got.Fields["n"] != "x" {
			t.Fatalf("FindOneByID after prime: doc=%v err=%v", got, err)
		}
		if col.fetchCount() != 0 {
			t.Fatalf("prime must prevent store fetches")
		}
	})

	t.Run("loader_tier_when_cache_rejects", func(t *testing.T) {
		col := newCountingCollection("users")
		mp := newMemProvider()
		mp.rejectSets = true
		ds := newTestDS(t, col, mp, nil)
		if err := ds.Prime(ctx, 0, doc); err != nil {
			t.Fatalf("Prime: %v", err)
		}
		got, err := ds.FindOneByID(ctx, "7", 0)
		if err != nil || got == nil {
			t.Fatalf("FindOneByID after prime: doc=%v err=%v", got, err)
		}
		if col.fetchCount() != 0 {
			t.Fatalf("loader memo must serve the read")
		}
	})
}

// Invalidation removes both tiers: the next read observes current store
// state instead of the stale entry.
func TestDeleteFromCacheByID(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"v": "old"}, false)
	ds := newTestDS(t, col, newMemProvider(), nil)

	if _, err := ds.FindOneByID(ctx, "1", 0); err != nil {
		t.Fatalf("warm: %v", err)
	}

	// write bypassing the data source; the cached entry is now stale
	_ = col.Set(ctx, "1", map[string]any{"v": "new"}, false)

	stale, err := ds.FindOneByID(ctx, "1", 0)
	if err != nil {
		t.Fatalf("stale read: %v", err)
	}
	if stale.Fields["v"] != "old" {
		t.Fatalf("expected stale cached value before invalidation, got %v", stale.Fields["v"])
	}

	if err := ds.DeleteFromCacheByID(ctx, "1"); err != nil {
		t.Fatalf("DeleteFromCacheByID: %v", err)
	}
	fresh, err := ds.FindOneByID(ctx, "1", 0)
	if err != nil {
		t.Fatalf("fresh read: %v", err)
	}
	if fresh.Fields["v"] != "new" {
		t.Fatalf("expected fresh value after invalidation, got %v", fresh.Fields["v"])
	}
	if got := col.fetchCount(); got != 2 {
		t.Fatalf("expected 2 fetches, got %d", got)
	}
}

// Not-found outcomes are never written to the backing cache by default:
// the loader memo pins them for the current request, but a new request
// sees a document created in between.
func TestNegativeResultsNotCachedByDefault(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	mp := newMemProvider()

	ds1 := newTestDS(t, col, mp, nil)
	if doc, err := ds1.FindOneByID(ctx, "42", 0); err != nil || doc != nil {
		t.Fatalf("expected nil for missing id, doc=%v err=%v", doc, err)
	}
	if len(keysOf(mp)) != 0 {
		t.Fatalf("negative result must not be written to the backing cache: %v", keysOf(mp))
	}

	_ = col.Set(ctx, "42", map[string]any{"n": "late"}, false)

	// same request: the loader memo still answers not-found
	if doc, err := ds1.FindOneByID(ctx, "42", 0); err != nil || doc != nil {
		t.Fatalf("same-request read should stay memoized nil, doc=%v err=%v", doc, err)
	}

	// next request sees the new document
	ds2 := newTestDS(t, col, mp, nil)
	doc, err := ds2.FindOneByID(ctx, "42", 0)
	if err != nil || doc == nil {
		t.Fatalf("new request should observe the created document, doc=%v err=%v", doc, err)
	}
}

// With CacheMissing enabled the trade-off flips: the miss is pinned across
// requests until invalidated.
func TestCacheMissingStoresNegativeEntry(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	mp := newMemProvider()
	withMissing := func(o *Options) { o.CacheMissing = true }

	ds1 := newTestDS(t, col, mp, withMissing)
	if doc, err := ds1.FindOneByID(ctx, "42", 0); err != nil || doc != nil {
		t.Fatalf("expected nil, doc=%v err=%v", doc, err)
	}
	if len(keysOf(mp)) != 1 {
		t.Fatalf("expected a negative entry, have %v", keysOf(mp))
	}

	_ = col.Set(ctx, "42", map[string]any{"n": "late"}, false)

	ds2 := newTestDS(t, col, mp, withMissing)
	if doc, err := ds2.FindOneByID(ctx, "42", 0); err != nil || doc != nil {
		t.Fatalf("negative entry should answer across requests, doc=%v err=%v", doc, err)
	}
	if col.fetchCount() != 1 {
		t.Fatalf("negative hit must not fetch, got %d fetches", col.fetchCount())
	}

	if err := ds2.DeleteFromCacheByID(ctx, "42"); err != nil {
		t.Fatalf("DeleteFromCacheByID: %v", err)
	}
	if doc, err := ds2.FindOneByID(ctx, "42", 0); err != nil || doc == nil {
		t.Fatalf("after invalidation the document should surface, doc=%v err=%v", doc, err)
	}
}

// An unreadable cache entry surfaces as a SerializationError and is
// removed so the next read recovers.
func TestUnreadableCacheEntrySurfacesAndHeals(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"n": "ok"}, false)
	mp := newMemProvider()
	ds := newTestDS(t, col, mp, nil)

	if _, err := mp.Set(ctx, "appusers:1", []byte("not json"), 1, 0); err != nil {
		t.Fatalf("inject: %v", err)
	}

	var serr *codec.SerializationError
	if _, err := ds.FindOneByID(ctx, "1", 0); !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if len(keysOf(mp)) != 0 {
		t.Fatalf("unreadable entry should have been deleted: %v", keysOf(mp))
	}

	doc, err := ds.FindOneByID(ctx, "1", 0)
	if err != nil || doc == nil {
		t.Fatalf("read after heal: doc=%v err=%v", doc, err)
	}
}

// A failed encode must not write a partial entry.
func TestEncodeFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"bad": "$$GeoPoint$$:1:2"}, false)
	mp := newMemProvider()
	ds := newTestDS(t, col, mp, nil)

	var serr *codec.SerializationError
	if _, err := ds.FindOneByID(ctx, "1", 0); !errors.As(err, &serr) {
		t.Fatalf("expected SerializationError, got %v", err)
	}
	if len(keysOf(mp)) != 0 {
		t.Fatalf("failed encode must not write to the cache: %v", keysOf(mp))
	}
}

func TestCRUDPassthrough(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	mp := newMemProvider()
	ds := newTestDS(t, col, mp, nil)

	created, err := ds.CreateOne(ctx, map[string]any{"role": "admin"}, 0)
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	if created.ID == "" || created.Collection != "users" {
		t.Fatalf("unexpected created document: %#v", created)
	}
	// immediate read is primed, no store fetch
	if got, err := ds.FindOneByID(ctx, created.ID, 0); err != nil || got == nil {
		t.Fatalf("read after create: doc=%v err=%v", got, err)
	}
	if col.fetchCount() != 0 {
		t.Fatalf("create should prime reads, got %d fetches", col.fetchCount())
	}

	updated, err := ds.UpdateOne(ctx, created.ID, map[string]any{"role": "owner"}, 0)
	if err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	if updated.Fields["role"] != "owner" {
		t.Fatalf("unexpected updated document: %#v", updated.Fields)
	}
	if got, _ := ds.FindOneByID(ctx, created.ID, 0); got.Fields["role"] != "owner" {
		t.Fatalf("read after update: %#v", got.Fields)
	}

	merged, err := ds.UpdateOnePartial(ctx, created.ID, map[string]any{"team": "infra"}, 0)
	if err != nil {
		t.Fatalf("UpdateOnePartial: %v", err)
	}
	if merged.Fields["role"] != "owner" || merged.Fields["team"] != "infra" {
		t.Fatalf("partial update lost fields: %#v", merged.Fields)
	}

	if err := ds.DeleteOne(ctx, created.ID); err != nil {
		t.Fatalf("DeleteOne: %v", err)
	}
	if got, err := ds.FindOneByID(ctx, created.ID, 0); err != nil || got != nil {
		t.Fatalf("read after delete: doc=%v err=%v", got, err)
	}
}

// Writes snapshot the caller's field map; mutating it afterwards must not
// corrupt same-request reads served from the loader memo.
func TestWritesSnapshotCallerFields(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	mp := newMemProvider()
	mp.rejectSets = true // force reads onto the loader memo, the shared tier
	ds := newTestDS(t, col, mp, nil)

	fields := map[string]any{"role": "admin"}
	created, err := ds.CreateOne(ctx, fields, 0)
	if err != nil {
		t.Fatalf("CreateOne: %v", err)
	}
	fields["role"] = "mutated"

	got, err := ds.FindOneByID(ctx, created.ID, 0)
	if err != nil || got == nil {
		t.Fatalf("FindOneByID: doc=%v err=%v", got, err)
	}
	if got.Fields["role"] != "admin" {
		t.Fatalf("caller mutation leaked into the primed document: %#v", got.Fields)
	}

	upd := map[string]any{"role": "owner"}
	if _, err := ds.UpdateOne(ctx, created.ID, upd, 0); err != nil {
		t.Fatalf("UpdateOne: %v", err)
	}
	upd["role"] = "mutated"

	got, err = ds.FindOneByID(ctx, created.ID, 0)
	if err != nil || got == nil {
		t.Fatalf("FindOneByID after update: doc=%v err=%v", got, err)
	}
	if got.Fields["role"] != "owner" {
		t.Fatalf("caller mutation leaked into the updated document: %#v", got.Fields)
	}
}

// Query results come from the store and are primed for later by-id reads.
func TestFindManyByQueryPrimes(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"role": "admin"}, false)
	_ = col.Set(ctx, "2", map[string]any{"role": "guest"}, false)
	ds := newTestDS(t, col, newMemProvider(), nil)

	docs, err := ds.FindManyByQuery(ctx, 0, store.Filter{Field: "role", Op: "==", Value: "admin"})
	if err != nil {
		t.Fatalf("FindManyByQuery: %v", err)
	}
	if len(docs) != 1 || docs[0].ID != "1" {
		t.Fatalf("unexpected query results: %v", docs)
	}

	if _, err := ds.FindOneByID(ctx, "1", 0); err != nil {
		t.Fatalf("FindOneByID: %v", err)
	}
	if col.fetchCount() != 0 {
		t.Fatalf("query results should be primed, got %d fetches", col.fetchCount())
	}
}

func TestNewFailsFastOnBadHandle(t *testing.T) {
	if _, err := New(Options{}); !errors.Is(err, store.ErrInvalidCollection) {
		t.Fatalf("nil collection: expected ErrInvalidCollection, got %v", err)
	}
	if _, err := New(Options{Collection: store.NewMemory("")}); !errors.Is(err, store.ErrInvalidCollection) {
		t.Fatalf("empty path: expected ErrInvalidCollection, got %v", err)
	}
}

func TestPrimeReportsBackingCacheFailures(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	mp := newMemProvider()
	sentinelErr := errors.New("cache down")
	mp.setErr = sentinelErr
	ds := newTestDS(t, col, mp, nil)

	doc := &document.Document{ID: "1", Collection: "users", Fields: map[string]any{"n": "x"}}
	err := ds.Prime(ctx, 0, doc)
	var perr *PrimeError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PrimeError, got %v", err)
	}
	if !errors.Is(err, sentinelErr) {
		t.Fatalf("PrimeError should unwrap to the provider error")
	}
	// loader tier was still primed
	if got, err := ds.FindOneByID(ctx, "1", 0); err != nil || got == nil {
		t.Fatalf("loader tier should serve the primed doc, doc=%v err=%v", got, err)
	}
	if col.fetchCount() != 0 {
		t.Fatalf("expected no store fetch, got %d", col.fetchCount())
	}
}

func TestTTLResolution(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"n": "x"}, false)
	mp := newMemProvider()
	ds := newTestDS(t, col, mp, func(o *Options) { o.DefaultTTL = 30 * time.Second })

	if _, err := ds.FindOneByID(ctx, "1", 90*time.Second); err != nil {
		t.Fatalf("FindOneByID: %v", err)
	}
	mp.mu.Lock()
	got := mp.m["appusers:1"].ttl
	mp.mu.Unlock()
	if got != 90*time.Second {
		t.Fatalf("per-call ttl not honored: %v", got)
	}

	if err := ds.DeleteFromCacheByID(ctx, "1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, err := ds.FindOneByID(ctx, "1", 0); err != nil {
		t.Fatalf("FindOneByID: %v", err)
	}
	mp.mu.Lock()
	got = mp.m["appusers:1"].ttl
	mp.mu.Unlock()
	if got != 30*time.Second {
		t.Fatalf("default ttl not applied: %v", got)
	}
}

// Close never shuts down an injected provider; it is shared across
// requests.
func TestCloseLeavesSharedProviderOpen(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	ds := newTestDS(t, newCountingCollection("users"), mp, nil)
	if err := ds.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if mp.closed {
		t.Fatalf("shared provider must stay open")
	}
}

type recordingHooks struct {
	mu      sync.Mutex
	hits    []string
	misses  []string
	batches []int
	heals   []string
}

func (h *recordingHooks) CacheHit(k string) {
	h.mu.Lock()
	h.hits = append(h.hits, k)
	h.mu.Unlock()
}
func (h *recordingHooks) CacheMiss(k string) {
	h.mu.Lock()
	h.misses = append(h.misses, k)
	h.mu.Unlock()
}
func (h *recordingHooks) BatchDispatched(_ string, n int) {
	h.mu.Lock()
	h.batches = append(h.batches, n)
	h.mu.Unlock()
}
func (h *recordingHooks) SelfHeal(k, _ string) {
	h.mu.Lock()
	h.heals = append(h.heals, k)
	h.mu.Unlock()
}
func (h *recordingHooks) SetRejected(string) {}

func TestHooksObserveTierTraffic(t *testing.T) {
	ctx := context.Background()
	col := newCountingCollection("users")
	_ = col.Set(ctx, "1", map[string]any{"n": "x"}, false)
	rec := &recordingHooks{}
	ds := newTestDS(t, col, newMemProvider(), func(o *Options) { o.Hooks = rec })

	if _, err := ds.FindOneByID(ctx, "1", 0); err != nil {
		t.Fatalf("miss path: %v", err)
	}
	if _, err := ds.FindOneByID(ctx, "1", 0); err != nil {
		t.Fatalf("hit path: %v", err)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.misses) != 1 || len(rec.hits) != 1 {
		t.Fatalf("expected 1 miss and 1 hit, got misses=%v hits=%v", rec.misses, rec.hits)
	}
	if len(rec.batches) != 1 || rec.batches[0] != 1 {
		t.Fatalf("expected one dispatched batch of 1, got %v", rec.batches)
	}
}
