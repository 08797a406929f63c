package util

import (
	"crypto/sha256"
	"fmt"
	"net/url"
)

// Identity is the match key of a request URL: the absolute URL without its fragment.
func Identity(u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// HashedKey returns prefix + ":" + the first 16 hex chars of sha256(id).
// URLs can be long, hashing keeps provider keys bounded.
func HashedKey(prefix, id string) string {
	sum := sha256.Sum256([]byte(id))
	return fmt.Sprintf("%s:%x", prefix, sum[:8])
}
