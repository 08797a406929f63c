package assetproxy

import (
	"errors"
	"fmt"
)

var (
	// ErrRejected is returned when the provider refused a write under pressure.
	ErrRejected = errors.New("assetproxy: provider rejected write")
	// ErrNotStorable is returned for requests or responses a store never holds:
	// non-GET requests, non-http(s) URLs, and responses with "Vary: *".
	ErrNotStorable = errors.New("assetproxy: request/response not storable")
	// ErrNoStore is returned when writing to a store that was deleted.
	ErrNoStore = errors.New("assetproxy: store does not exist")
)

// StatusError reports a seed that answered with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d", e.URL, e.StatusCode)
}

// SeedError is one failed seed of an AddAll batch.
type SeedError struct {
	URL string
	Err error
}

func (e *SeedError) Error() string {
	return fmt.Sprintf("seed %q: %v", e.URL, e.Err)
}

func (e *SeedError) Unwrap() error { return e.Err }

// InstallError is returned by Proxy.Install. Nothing from the failed batch
// is left in the store.
type InstallError struct {
	Cache string
	Err   error
}

func (e *InstallError) Error() string {
	return fmt.Sprintf("assetproxy: install %q failed: %v", e.Cache, e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// SeedErrors lists every *SeedError carried by err.
func SeedErrors(err error) []*SeedError {
	var out []*SeedError
	var walk func(error)
	walk = func(err error) {
		if err == nil {
			return
		}
		switch u := err.(type) {
		case *SeedError:
			out = append(out, u)
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			walk(u.Unwrap())
		}
	}
	walk(err)
	return out
}
