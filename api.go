package assetproxy

import (
	"fmt"
	"net/http"
	"net/url"
)

// Options configure a Proxy. Only Storage is required; Origin is required
// as soon as a seed is a relative path (the default seed list is).
type Options struct {
	Storage *Storage

	CacheName string            // "" => DefaultCacheName
	Seed      []string          // nil => DefaultSeed(); empty => seed nothing
	Origin    *url.URL          // base for relative seeds
	Network   http.RoundTripper // nil => http.DefaultTransport
	Logger    Logger            // nil => NopLogger
	Hooks     Hooks             // nil => NopHooks
	Disabled  bool              // true => every request goes to the network
}

func New(opts Options) (*Proxy, error) {
	if opts.Storage == nil {
		return nil, fmt.Errorf("assetproxy: storage is required")
	}
	p := &Proxy{
		storage: opts.Storage,
		name:    coalesce(opts.CacheName, DefaultCacheName),
		network: opts.Network,
		enabled: !opts.Disabled,
	}
	if p.network == nil {
		p.network = http.DefaultTransport
	}
	p.log = coalesce[Logger](opts.Logger, NopLogger{})
	p.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})

	seed := opts.Seed
	if seed == nil {
		seed = DefaultSeed()
	}
	resolved, err := resolveSeed(opts.Origin, seed)
	if err != nil {
		return nil, err
	}
	p.seed = resolved
	return p, nil
}

func resolveSeed(origin *url.URL, seed []string) ([]string, error) {
	out := make([]string, 0, len(seed))
	for _, s := range seed {
		u, err := url.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("assetproxy: seed %q: %w", s, err)
		}
		if !u.IsAbs() {
			if origin == nil {
				return nil, fmt.Errorf("assetproxy: seed %q is relative and no origin is set", s)
			}
			u = origin.ResolveReference(u)
		}
		out = append(out, u.String())
	}
	return out, nil
}
