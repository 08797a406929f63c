package assetproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	c "github.com/unkn0wn-root/assetproxy/codec"
	gen "github.com/unkn0wn-root/assetproxy/genstore"
	"github.com/unkn0wn-root/assetproxy/internal/util"
	"github.com/unkn0wn-root/assetproxy/internal/wire"
	pr "github.com/unkn0wn-root/assetproxy/provider"
)

// SetCostFunc returns the cost passed to Provider.Set. The default is len(raw),
// which makes ristretto's MaxCost a byte budget.
type SetCostFunc func(key string, raw []byte) int64

// StorageOptions configure a Storage. Only Namespace and Provider are required.
type StorageOptions struct {
	Namespace string // isolates several Storages sharing one provider
	Provider  pr.Provider

	Codec          c.Codec[Entry] // nil => deterministic CBOR
	GenStore       gen.GenStore   // nil => LocalGenStore (in-process)
	Logger         Logger         // nil => NopLogger
	Hooks          Hooks          // nil => NopHooks
	ComputeSetCost SetCostFunc    // nil => len(raw)
	Now            func() time.Time
}

// Storage is the set of named cache stores kept in one provider namespace.
// Safe for concurrent use.
type Storage struct {
	ns       string
	provider pr.Provider
	codec    c.Codec[Entry]
	gen      gen.GenStore
	log      Logger
	hooks    Hooks
	cost     SetCostFunc
	now      func() time.Time

	// serializes read-modify-write of the registry and store indexes
	mu sync.Mutex
}

func NewStorage(opts StorageOptions) (*Storage, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("assetproxy: provider is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("assetproxy: namespace is required")
	}

	s := &Storage{
		ns:       opts.Namespace,
		provider: opts.Provider,
		codec:    opts.Codec,
		gen:      opts.GenStore,
		cost:     opts.ComputeSetCost,
		now:      opts.Now,
	}
	if s.codec == nil {
		cb, err := c.NewCBOR[Entry](true)
		if err != nil {
			return nil, err
		}
		s.codec = cb
	}
	if s.gen == nil {
		s.gen = gen.NewLocalGenStore()
	}
	if s.cost == nil {
		s.cost = func(_ string, raw []byte) int64 { return int64(len(raw)) }
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	return s, nil
}

// Close closes the generation store, then the provider.
func (s *Storage) Close(ctx context.Context) error {
	_ = s.gen.Close(ctx)
	return s.provider.Close(ctx)
}

// Open returns the store called name, creating it if absent.
func (s *Storage) Open(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("assetproxy: store name is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names(ctx)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(names, name) {
		if err := s.writeNames(ctx, append(names, name)); err != nil {
			return nil, err
		}
		s.log.Debug("store created", Fields{"store": name})
	}
	return &Store{s: s, name: name}, nil
}

func (s *Storage) Has(ctx context.Context, name string) (bool, error) {
	names, err := s.names(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, name), nil
}

// Names lists stores in creation order.
func (s *Storage) Names(ctx context.Context) ([]string, error) {
	return s.names(ctx)
}

// Delete removes the store called name and its entries. It reports false
// when there was no such store.
func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.names(ctx)
	if err != nil {
		return false, err
	}
	i := slices.Index(names, name)
	if i < 0 {
		return false, nil
	}
	st := &Store{s: s, name: name}
	g, err := st.generation(ctx)
	if err != nil {
		return false, err
	}
	ids, _ := st.keys(ctx, g)

	// bump first: whatever the deletes below miss can no longer match
	if _, err := s.gen.Bump(ctx, st.genKey()); err != nil {
		s.hooks.GenError(st.genKey(), err)
		return false, fmt.Errorf("assetproxy: delete %q: %w", name, err)
	}
	if err := s.writeNames(ctx, slices.Delete(names, i, i+1)); err != nil {
		return false, err
	}

	// best-effort: the bump already hides these
	for _, id := range ids {
		_ = s.provider.Del(ctx, st.entryKey(id))
	}
	_ = s.provider.Del(ctx, st.indexKey())

	s.log.Info("store deleted", Fields{"store": name, "entries": len(ids)})
	return true, nil
}

// Match looks req up in every store, in creation order, and returns the first hit.
func (s *Storage) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if !isGet(req) || !storableURL(req) {
		return nil, false, nil
	}
	names, err := s.names(ctx)
	if err != nil || len(names) == 0 {
		return nil, false, err
	}

	genKeys := make([]string, len(names))
	for i, n := range names {
		genKeys[i] = s.genKey(n)
	}
	gens, err := s.gen.SnapshotMany(ctx, genKeys)
	if err != nil {
		s.hooks.GenError(s.registryKey(), err)
		return nil, false, err
	}

	id := util.Identity(req.URL)
	for i, n := range names {
		st := &Store{s: s, name: n}
		e, ok, err := st.lookup(ctx, id, gens[genKeys[i]])
		if err != nil {
			return nil, false, err
		}
		if ok {
			s.hooks.CacheHit(n, id)
			return e.Response(req), true, nil
		}
	}
	return nil, false, nil
}

func (s *Storage) registryKey() string       { return "stores:" + s.ns }
func (s *Storage) genKey(name string) string { return "store:" + s.ns + ":" + name }

func (s *Storage) names(ctx context.Context) ([]string, error) {
	k := s.registryKey()
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil || !ok {
		return nil, err
	}
	names, err := wire.DecodeList(raw)
	if err != nil {
		_ = s.provider.Del(ctx, k)
		s.hooks.SelfHeal(k, "corrupt")
		return nil, nil
	}
	return names, nil
}

func (s *Storage) writeNames(ctx context.Context, names []string) error {
	raw, err := wire.EncodeList(names)
	if err != nil {
		return err
	}
	return s.set(ctx, s.registryKey(), raw)
}

func (s *Storage) set(ctx context.Context, key string, raw []byte) error {
	ok, err := s.provider.Set(ctx, key, raw, s.cost(key, raw), 0)
	if err != nil {
		return err
	}
	if !ok {
		s.hooks.ProviderSetRejected(key)
		return fmt.Errorf("%w: %s", ErrRejected, key)
	}
	return nil
}

// Store is one named cache store. It holds only its name; every call goes
// to the provider, so a store deleted elsewhere stops matching at once.
type Store struct {
	s    *Storage
	name string
}

func (st *Store) Name() string { return st.name }

func (st *Store) genKey() string   { return st.s.genKey(st.name) }
func (st *Store) indexKey() string { return "index:" + st.s.ns + ":" + st.name }
func (st *Store) entryKey(id string) string {
	return util.HashedKey("entry:"+st.s.ns+":"+st.name, id)
}

func (st *Store) generation(ctx context.Context) (uint64, error) {
	g, err := st.s.gen.Snapshot(ctx, st.genKey())
	if err != nil {
		st.s.hooks.GenError(st.genKey(), err)
		return 0, err
	}
	return g, nil
}

// Match returns the stored response for req, if any. Only the identity of a
// GET request is compared; request headers are ignored.
func (st *Store) Match(ctx context.Context, req *http.Request) (*http.Response, bool, error) {
	if !isGet(req) || !storableURL(req) {
		return nil, false, nil
	}
	g, err := st.generation(ctx)
	if err != nil {
		return nil, false, err
	}
	e, ok, err := st.lookup(ctx, util.Identity(req.URL), g)
	if err != nil || !ok {
		return nil, false, err
	}
	return e.Response(req), true, nil
}

// lookup reads the entry for id written under generation g. Corrupt, stale
// and undecodable entries are deleted and reported as misses.
func (st *Store) lookup(ctx context.Context, id string, g uint64) (Entry, bool, error) {
	k := st.entryKey(id)
	raw, ok, err := st.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return Entry{}, false, err
	}
	eg, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		st.heal(ctx, k, "corrupt")
		return Entry{}, false, nil
	}
	if eg != g {
		st.heal(ctx, k, "gen_mismatch")
		return Entry{}, false, nil
	}
	e, err := st.s.codec.Decode(payload)
	if err != nil {
		st.heal(ctx, k, "value_decode")
		return Entry{}, false, nil
	}
	// hashed keys can collide; the full identity is authoritative
	if e.URL != id {
		return Entry{}, false, nil
	}
	return e, true, nil
}

func (st *Store) heal(ctx context.Context, key, reason string) {
	_ = st.s.provider.Del(ctx, key)
	st.s.hooks.SelfHeal(key, reason)
	st.s.log.Debug("self-healed entry", Fields{"store": st.name, "key": key, "reason": reason})
}

// Keys lists the request identities held by the store, in insertion order.
func (st *Store) Keys(ctx context.Context) ([]string, error) {
	g, err := st.generation(ctx)
	if err != nil {
		return nil, err
	}
	return st.keys(ctx, g)
}

func (st *Store) keys(ctx context.Context, g uint64) ([]string, error) {
	k := st.indexKey()
	raw, ok, err := st.s.provider.Get(ctx, k)
	if err != nil || !ok {
		return nil, err
	}
	ig, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		st.heal(ctx, k, "corrupt")
		return nil, nil
	}
	if ig != g {
		st.heal(ctx, k, "gen_mismatch")
		return nil, nil
	}
	ids, err := wire.DecodeList(payload)
	if err != nil {
		st.heal(ctx, k, "corrupt")
		return nil, nil
	}
	return ids, nil
}

// Entries returns every readable entry of the store, in insertion order.
func (st *Store) Entries(ctx context.Context) ([]Entry, error) {
	g, err := st.generation(ctx)
	if err != nil {
		return nil, err
	}
	ids, err := st.keys(ctx, g)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, ok, err := st.lookup(ctx, id, g)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Put stores resp as the answer to req. resp.Body is read to the end and closed.
func (st *Store) Put(ctx context.Context, req *http.Request, resp *http.Response) error {
	defer resp.Body.Close()
	if !isGet(req) || !storableURL(req) {
		return fmt.Errorf("%w: %s %s", ErrNotStorable, req.Method, req.URL)
	}
	if _, star := varyFields(resp.Header); star {
		return fmt.Errorf("%w: %s has Vary: *", ErrNotStorable, req.URL)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return st.commit(ctx, []Entry{newEntry(util.Identity(req.URL), req, resp, body, st.s.now())})
}

// AddAll fetches every url through rt and stores the responses. The batch is
// all-or-nothing: a transport error, a non-2xx status, a "Vary: *" response
// or an unusable URL fails it, and nothing is stored. Each failed url is
// reported as a *SeedError inside the returned error.
func (st *Store) AddAll(ctx context.Context, rt http.RoundTripper, urls []string) error {
	entries := make([]Entry, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	for i, raw := range urls {
		g.Go(func() error {
			e, err := st.fetch(gctx, rt, raw)
			if err != nil {
				errs[i] = &SeedError{URL: raw, Err: err}
				return errs[i]
			}
			entries[i] = e
			return nil
		})
	}
	if g.Wait() != nil {
		return st.batchError(ctx, errs)
	}
	return st.commit(ctx, entries)
}

// batchError keeps the failures that caused the batch to stop; fetches
// cancelled because a sibling failed are not reported.
func (st *Store) batchError(ctx context.Context, errs []error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	var keep, cancelled []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) {
			cancelled = append(cancelled, err)
			continue
		}
		var se *SeedError
		if errors.As(err, &se) {
			st.s.hooks.SeedFailed(se.URL, se.Err)
		}
		keep = append(keep, err)
	}
	if len(keep) == 0 {
		// the transport itself reported cancellation
		return errors.Join(cancelled...)
	}
	return errors.Join(keep...)
}

func (st *Store) fetch(ctx context.Context, rt http.RoundTripper, raw string) (Entry, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Entry{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Entry{}, err
	}
	if !storableURL(req) {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotStorable, raw)
	}
	resp, err := rt.RoundTrip(req)
	if err != nil {
		return Entry{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Entry{}, &StatusError{URL: raw, StatusCode: resp.StatusCode}
	}
	if _, star := varyFields(resp.Header); star {
		return Entry{}, fmt.Errorf("%w: %s has Vary: *", ErrNotStorable, raw)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Entry{}, err
	}
	return newEntry(util.Identity(req.URL), req, resp, body, st.s.now()), nil
}

// commit writes entries and then the index, under the current generation.
// If a write fails, entries this commit added are removed again.
func (st *Store) commit(ctx context.Context, entries []Entry) error {
	st.s.mu.Lock()
	defer st.s.mu.Unlock()

	names, err := st.s.names(ctx)
	if err != nil {
		return err
	}
	if !slices.Contains(names, st.name) {
		return fmt.Errorf("%w: %q", ErrNoStore, st.name)
	}

	g, err := st.generation(ctx)
	if err != nil {
		return err
	}
	ids, err := st.keys(ctx, g)
	if err != nil {
		return err
	}

	var added []string
	rollback := func() {
		for _, id := range added {
			_ = st.s.provider.Del(ctx, st.entryKey(id))
		}
	}

	for _, e := range entries {
		payload, err := st.s.codec.Encode(e)
		if err != nil {
			rollback()
			return fmt.Errorf("assetproxy: encode %s: %w", e.URL, err)
		}
		if err := st.s.set(ctx, st.entryKey(e.URL), wire.EncodeEntry(g, payload)); err != nil {
			rollback()
			return err
		}
		if !slices.Contains(ids, e.URL) {
			ids = append(ids, e.URL)
			added = append(added, e.URL)
		}
	}

	list, err := wire.EncodeList(ids)
	if err != nil {
		rollback()
		return err
	}
	if err := st.s.set(ctx, st.indexKey(), wire.EncodeEntry(g, list)); err != nil {
		rollback()
		return err
	}
	st.s.log.Debug("entries stored", Fields{"store": st.name, "count": len(entries), "gen": g})
	return nil
}
