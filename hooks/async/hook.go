// Package asynchook moves hook callbacks off the caller's goroutine.
// Events beyond the queue capacity are dropped, never blocked on.
package asynchook

import (
	"sync"

	datasource "github.com/brandturbo/apollo-datasource-firestore"
)

type Hooks struct {
	inner datasource.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ datasource.Hooks = (*Hooks)(nil)

func New(inner datasource.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) CacheHit(k string)  { h.try(func() { h.inner.CacheHit(k) }) }
func (h *Hooks) CacheMiss(k string) { h.try(func() { h.inner.CacheMiss(k) }) }
func (h *Hooks) BatchDispatched(col string, n int) {
	h.try(func() { h.inner.BatchDispatched(col, n) })
}
func (h *Hooks) SelfHeal(k, reason string) { h.try(func() { h.inner.SelfHeal(k, reason) }) }
func (h *Hooks) SetRejected(k string)      { h.try(func() { h.inner.SetRejected(k) }) }
