// Package host is the runtime an offline proxy is registered with: it owns
// the install lifecycle and decides which requests reach the fetch listener.
//
// Lifecycle:
//
//	parsed --Install--> installing --ok--> activated
//	                        |
//	                        +--error--> parsed (Install may be called again)
//
// Until activated, requests bypass the listeners and go to the network.
package host

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// InstallFunc seeds whatever the listener needs before it can serve.
type InstallFunc func(ctx context.Context) error

// FetchFunc answers an intercepted request.
type FetchFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Events is the event-dispatch surface a proxy registers against.
type Events interface {
	OnInstall(InstallFunc)
	OnFetch(FetchFunc)
}

type State int32

const (
	StateParsed State = iota
	StateInstalling
	StateActivated
)

func (s State) String() string {
	switch s {
	case StateParsed:
		return "parsed"
	case StateInstalling:
		return "installing"
	case StateActivated:
		return "activated"
	default:
		return "unknown"
	}
}

var ErrInstalling = errors.New("host: install already in progress")

type Options struct {
	// Network carries requests that bypass the listeners. nil => http.DefaultTransport.
	Network http.RoundTripper
	// MaxAttempts bounds install attempts; 0 => 1 (no retry).
	MaxAttempts uint
	// BackOff paces install retries. nil => exponential backoff.
	BackOff backoff.BackOff
	// OnInstallRetry is called before each retry with the failed attempt's error.
	OnInstallRetry func(err error, wait time.Duration)
	// ErrorLog receives errors the reverse proxy handler turns into 502s.
	ErrorLog func(req *http.Request, err error)
}

// Runtime dispatches lifecycle events to registered listeners.
type Runtime struct {
	opts    Options
	network http.RoundTripper

	mu      sync.RWMutex
	install []InstallFunc
	fetch   []FetchFunc

	state atomic.Int32
}

var (
	_ Events            = (*Runtime)(nil)
	_ http.RoundTripper = (*Runtime)(nil)
)

func New(opts Options) *Runtime {
	r := &Runtime{opts: opts, network: opts.Network}
	if r.network == nil {
		r.network = http.DefaultTransport
	}
	return r
}

func (r *Runtime) OnInstall(f InstallFunc) {
	r.mu.Lock()
	r.install = append(r.install, f)
	r.mu.Unlock()
}

// OnFetch adds a fetch listener. The first registered listener answers
// every request.
func (r *Runtime) OnFetch(f FetchFunc) {
	r.mu.Lock()
	r.fetch = append(r.fetch, f)
	r.mu.Unlock()
}

func (r *Runtime) State() State { return State(r.state.Load()) }

// Install runs every install listener concurrently; the attempt succeeds only
// if all of them do. Failed attempts are retried per Options, and once they
// are exhausted the runtime returns to parsed with the last error.
// Install on an activated runtime is a no-op.
func (r *Runtime) Install(ctx context.Context) error {
	if !r.state.CompareAndSwap(int32(StateParsed), int32(StateInstalling)) {
		if r.State() == StateActivated {
			return nil
		}
		return ErrInstalling
	}

	r.mu.RLock()
	listeners := append([]InstallFunc(nil), r.install...)
	r.mu.RUnlock()

	attempt := func() (struct{}, error) {
		g, gctx := errgroup.WithContext(ctx)
		for _, f := range listeners {
			g.Go(func() error { return f(gctx) })
		}
		return struct{}{}, g.Wait()
	}

	opts := []backoff.RetryOption{
		backoff.WithMaxTries(max(r.opts.MaxAttempts, 1)),
	}
	if r.opts.BackOff != nil {
		opts = append(opts, backoff.WithBackOff(r.opts.BackOff))
	}
	if r.opts.OnInstallRetry != nil {
		opts = append(opts, backoff.WithNotify(r.opts.OnInstallRetry))
	}

	if _, err := backoff.Retry(ctx, attempt, opts...); err != nil {
		r.state.Store(int32(StateParsed))
		return err
	}
	r.state.Store(int32(StateActivated))
	return nil
}

// RoundTrip hands req to the fetch listener once activated, and to the
// network otherwise.
func (r *Runtime) RoundTrip(req *http.Request) (*http.Response, error) {
	if r.State() != StateActivated {
		return r.network.RoundTrip(req)
	}
	r.mu.RLock()
	var f FetchFunc
	if len(r.fetch) > 0 {
		f = r.fetch[0]
	}
	r.mu.RUnlock()
	if f == nil {
		return r.network.RoundTrip(req)
	}
	return f(req.Context(), req)
}

// Handler serves incoming requests by rewriting them onto origin and
// routing them through the runtime.
func (r *Runtime) Handler(origin *url.URL) http.Handler {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(origin)
			pr.SetXForwarded()
		},
		Transport: r,
		ErrorHandler: func(w http.ResponseWriter, req *http.Request, err error) {
			if r.opts.ErrorLog != nil {
				r.opts.ErrorLog(req, err)
			}
			w.WriteHeader(http.StatusBadGateway)
		},
	}
}
