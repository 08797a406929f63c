// Package asynchook runs assetproxy hooks on background workers so slow
// sinks never delay an intercepted request.
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{HitEvery: 100})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	storage, _ := assetproxy.NewStorage(assetproxy.StorageOptions{
//	    Namespace: "prod",
//	    Provider:  provider,
//	    Hooks:     hooks,
//	})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/assetproxy"
)

// Hooks queues events for inner. When the queue is full, or after Close,
// events are dropped and counted.
type Hooks struct {
	inner assetproxy.Hooks
	q     chan func()
	wg    sync.WaitGroup

	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
}

var _ assetproxy.Hooks = (*Hooks)(nil)

func New(inner assetproxy.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for range workers {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close stops accepting events and waits for queued ones to run.
func (h *Hooks) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	close(h.q)
	h.mu.Unlock()
	h.wg.Wait()
}

// Dropped returns how many events were discarded.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		h.dropped.Add(1)
		return
	}
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) CacheHit(s, id string)          { h.try(func() { h.inner.CacheHit(s, id) }) }
func (h *Hooks) CacheMiss(id string)            { h.try(func() { h.inner.CacheMiss(id) }) }
func (h *Hooks) SelfHeal(k, r string)           { h.try(func() { h.inner.SelfHeal(k, r) }) }
func (h *Hooks) ProviderSetRejected(k string)   { h.try(func() { h.inner.ProviderSetRejected(k) }) }
func (h *Hooks) SeedFailed(u string, err error) { h.try(func() { h.inner.SeedFailed(u, err) }) }
func (h *Hooks) GenError(k string, err error)   { h.try(func() { h.inner.GenError(k, err) }) }
