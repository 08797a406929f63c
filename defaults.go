package assetproxy

// DefaultCacheName is the store Install seeds when Options.CacheName is empty.
const DefaultCacheName = "vox-videos-cache"

// DefaultSeed returns the paths Install seeds when Options.Seed is nil.
// Paths are resolved against Options.Origin.
func DefaultSeed() []string {
	return []string{"/", "/static/logo/logo.png"}
}

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}
