package assetproxy

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; Intercept calls them
// on every request.
type Hooks interface {
	// An intercepted request was answered from store.
	CacheHit(store, identity string)

	// An intercepted request went to the network.
	CacheMiss(identity string)

	// An entry or index was deleted on read.
	// reason ∈ {"corrupt", "gen_mismatch", "value_decode"}
	SelfHeal(storageKey, reason string)

	// Provider returned ok=false on Set (backpressure/eviction).
	ProviderSetRejected(storageKey string)

	// A seed could not be fetched or stored; install fails.
	SeedFailed(url string, err error)

	// GenStore errors (snapshot or bump).
	GenError(key string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) CacheHit(string, string)    {}
func (NopHooks) CacheMiss(string)           {}
func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) ProviderSetRejected(string) {}
func (NopHooks) SeedFailed(string, error)   {}
func (NopHooks) GenError(string, error)     {}
