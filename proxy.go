package assetproxy

import (
	"context"
	"net/http"

	"github.com/unkn0wn-root/assetproxy/host"
	"github.com/unkn0wn-root/assetproxy/internal/util"
)

// Proxy serves requests from its Storage and falls back to the network.
// It never writes a network response back: only Install adds entries.
type Proxy struct {
	storage *Storage
	name    string
	seed    []string
	network http.RoundTripper
	log     Logger
	hooks   Hooks
	enabled bool
}

var _ http.RoundTripper = (*Proxy)(nil)

func (p *Proxy) CacheName() string { return p.name }

// Seed returns the absolute URLs Install fetches.
func (p *Proxy) Seed() []string { return append([]string(nil), p.seed...) }

func (p *Proxy) Enabled() bool { return p.enabled }

// Install opens (or creates) the named store and seeds it. Either every seed
// is stored or the install fails with an *InstallError and the store is left
// as it was.
func (p *Proxy) Install(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	st, err := p.storage.Open(ctx, p.name)
	if err != nil {
		return &InstallError{Cache: p.name, Err: err}
	}
	if err := st.AddAll(ctx, p.network, p.seed); err != nil {
		p.log.Error("install failed", Fields{"store": p.name, "err": err})
		return &InstallError{Cache: p.name, Err: err}
	}
	p.log.Info("installed", Fields{"store": p.name, "seeded": len(p.seed)})
	return nil
}

// Intercept answers req from the storage when a stored response matches, and
// otherwise with exactly one network round trip whose result (or error) is
// returned untouched. Storage errors are logged and treated as misses.
func (p *Proxy) Intercept(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Context() != ctx {
		req = req.WithContext(ctx)
	}
	if p.enabled {
		resp, ok, err := p.storage.Match(ctx, req)
		switch {
		case err != nil:
			p.log.Warn("cache lookup failed; using network", Fields{"url": req.URL.String(), "err": err})
		case ok:
			return resp, nil
		}
		p.hooks.CacheMiss(util.Identity(req.URL))
	}
	return p.network.RoundTrip(req)
}

// RoundTrip makes the proxy usable as an http.Client transport.
func (p *Proxy) RoundTrip(req *http.Request) (*http.Response, error) {
	return p.Intercept(req.Context(), req)
}

// Register attaches Install and Intercept to a host runtime.
func (p *Proxy) Register(ev host.Events) {
	ev.OnInstall(p.Install)
	ev.OnFetch(p.Intercept)
}
