package asynchook

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/unkn0wn-root/assetproxy"
)

type recorder struct {
	assetproxy.NopHooks
	mu     sync.Mutex
	events []string
	block  chan struct{}
}

func (r *recorder) add(ev string) {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) CacheHit(store, id string)      { r.add("hit " + store + " " + id) }
func (r *recorder) CacheMiss(id string)            { r.add("miss " + id) }
func (r *recorder) SeedFailed(u string, err error) { r.add("seed " + u + " " + err.Error()) }

func TestEventsReachInnerBeforeClose(t *testing.T) {
	rec := &recorder{}
	h := New(rec, 1, 16)

	h.CacheHit("vox-videos-cache", "http://o/")
	h.CacheMiss("http://o/x")
	h.SeedFailed("http://o/logo.png", errors.New("404"))
	h.Close()

	assert.Equal(t, []string{
		"hit vox-videos-cache http://o/",
		"miss http://o/x",
		"seed http://o/logo.png 404",
	}, rec.events)
	assert.Zero(t, h.Dropped())
}

func TestFullQueueDropsEvents(t *testing.T) {
	rec := &recorder{block: make(chan struct{})}
	h := New(rec, 1, 1)

	// one event is held by the worker, one sits in the queue, the rest drop
	for range 10 {
		h.CacheMiss("http://o/")
	}
	assert.GreaterOrEqual(t, h.Dropped(), uint64(8))

	close(rec.block)
	h.Close()
	assert.Equal(t, uint64(10), h.Dropped()+uint64(len(rec.events)))
}

func TestEventsAfterCloseAreDropped(t *testing.T) {
	h := New(assetproxy.NopHooks{}, 0, 0)
	h.Close()
	h.Close()
	h.GenError("store:x", errors.New("down"))
	assert.Equal(t, uint64(1), h.Dropped())
}
