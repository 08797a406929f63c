// Package assetproxy implements an offline asset proxy: a cache-first
// http.RoundTripper that is seeded once at install time and otherwise falls
// back to the network.
//
// Components:
//   - Storage: named cache stores over a byte Provider (Ristretto, BigCache, Redis).
//   - Codec[Entry]: (de)serializes stored responses (CBOR by default).
//   - GenStore: generation per store name; a deleted store's leftovers never match.
//   - Proxy: Install seeds the store; Intercept serves hits and forwards misses.
//
// Keys:
//
//	stores:<ns>                 - registry of store names (creation order)
//	index:<ns>:<name>           - request identities held by a store
//	entry:<ns>:<name>:<hash>    - one stored response
//
// Usage:
//
//	st, _ := assetproxy.NewStorage(assetproxy.StorageOptions{Namespace: "app", Provider: p})
//	px, _ := assetproxy.New(assetproxy.Options{Origin: origin, Storage: st})
//	if err := px.Install(ctx); err != nil { ... }
//	client := &http.Client{Transport: px}
//
// Misses are never written back: only the seed list is ever cached.
package assetproxy
