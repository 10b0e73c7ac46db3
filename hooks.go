package datasource

// Hooks are lightweight callbacks for high-signal cache events.
// Implementations MUST be cheap and non-blocking; the data source calls
// them on hot paths. Wrap with hooks/async to take them off the caller's
// goroutine.
type Hooks interface {
	// A backing-cache read hit (including negative-entry hits).
	CacheHit(key string)

	// A backing-cache read miss about to fall through to the loader.
	CacheMiss(key string)

	// The loader dispatched one store round trip for size ids.
	BatchDispatched(collection string, size int)

	// A backing-cache entry was deleted on read.
	// reason ∈ {"decode"}
	SelfHeal(key, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	SetRejected(key string)
}

// NopHooks is the default no-op.
type NopHooks struct{}

func (NopHooks) CacheHit(string)             {}
func (NopHooks) CacheMiss(string)            {}
func (NopHooks) BatchDispatched(string, int) {}
func (NopHooks) SelfHeal(string, string)     {}
func (NopHooks) SetRejected(string)          {}
