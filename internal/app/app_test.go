package app

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/assetproxy"
	"github.com/unkn0wn-root/assetproxy/host"
	"github.com/unkn0wn-root/assetproxy/internal/config"
)

type testOrigin struct {
	*httptest.Server
	logoHits atomic.Int32
	noLogo   atomic.Bool
}

func newTestOrigin(t *testing.T) *testOrigin {
	t.Helper()
	o := &testOrigin{}
	o.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			_, _ = io.WriteString(w, "<html>vox</html>")
		case "/static/logo/logo.png":
			o.logoHits.Add(1)
			if o.noLogo.Load() {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte{0x89, 'P', 'N', 'G'})
		default:
			_, _ = io.WriteString(w, "live")
		}
	}))
	t.Cleanup(o.Close)
	return o
}

func loadConfig(t *testing.T, vars map[string]string) config.Config {
	t.Helper()
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

// lockedBuffer is shared by the app logger and the async hook worker.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestApp(t *testing.T, cfg config.Config) (*App, *lockedBuffer) {
	t.Helper()
	buf := &lockedBuffer{}
	a, err := New(cfg, Options{Out: buf, BackOff: backoff.NewConstantBackOff(time.Millisecond)})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a, buf
}

func TestAppServesSeedsAfterInstall(t *testing.T) {
	for _, store := range []string{"ristretto", "bigcache"} {
		for _, cd := range []string{"cbor", "msgpack", "json", "proto"} {
			t.Run(store+"/"+cd, func(t *testing.T) {
				o := newTestOrigin(t)
				a, _ := newTestApp(t, loadConfig(t, map[string]string{
					"ASSETPROXY_ORIGIN": o.URL,
					"ASSETPROXY_STORE":  store,
					"ASSETPROXY_CODEC":  cd,
				}))

				require.NoError(t, a.Install(context.Background()))
				assert.Equal(t, host.StateActivated, a.Runtime.State())

				o.noLogo.Store(true) // origin loses the asset; the cached copy still serves
				front := httptest.NewServer(a.Runtime.Handler(mustOrigin(t, a.Config)))
				defer front.Close()

				resp, err := http.Get(front.URL + "/static/logo/logo.png")
				require.NoError(t, err)
				defer resp.Body.Close()
				body, _ := io.ReadAll(resp.Body)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, body)
				assert.EqualValues(t, 1, o.logoHits.Load())
			})
		}
	}
}

func TestAppServesVaryingSeedToClientHeaders(t *testing.T) {
	var down atomic.Bool
	var hits atomic.Int32
	o := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if down.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Vary", "Accept-Encoding")
		_, _ = io.WriteString(w, "<html>vox</html>")
	}))
	defer o.Close()

	a, _ := newTestApp(t, loadConfig(t, map[string]string{
		"ASSETPROXY_ORIGIN": o.URL,
		"ASSETPROXY_SEED":   "/",
	}))
	require.NoError(t, a.Install(context.Background()))
	down.Store(true)

	front := httptest.NewServer(a.Runtime.Handler(mustOrigin(t, a.Config)))
	defer front.Close()

	// the default client adds Accept-Encoding: gzip
	resp, err := http.Get(front.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>vox</html>", string(body))

	req, err := http.NewRequest(http.MethodGet, front.URL+"/", nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "br")
	req.Header.Set("Cookie", "session=1")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "<html>vox</html>", string(body))

	assert.EqualValues(t, 1, hits.Load())
}

func mustOrigin(t *testing.T, cfg config.Config) *url.URL {
	t.Helper()
	u, err := cfg.OriginURL()
	require.NoError(t, err)
	return u
}

func TestAppInstallRetriesThenFails(t *testing.T) {
	o := newTestOrigin(t)
	o.noLogo.Store(true)
	a, logs := newTestApp(t, loadConfig(t, map[string]string{
		"ASSETPROXY_ORIGIN":           o.URL,
		"ASSETPROXY_INSTALL_ATTEMPTS": "3",
	}))

	err := a.Install(context.Background())
	var ie *assetproxy.InstallError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "vox-videos-cache", ie.Cache)
	assert.EqualValues(t, 3, o.logoHits.Load())
	assert.Equal(t, host.StateParsed, a.Runtime.State())
	assert.Contains(t, logs.String(), "install attempt failed; retrying")

	st, err := a.Storage.Open(context.Background(), "vox-videos-cache")
	require.NoError(t, err)
	keys, err := st.Keys(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	_, err := New(loadConfig(t, map[string]string{"ASSETPROXY_STORE": "disk"}), Options{})
	require.Error(t, err)

	// relative default seeds need an origin
	_, err = New(loadConfig(t, map[string]string{}), Options{})
	require.Error(t, err)
}

func TestAppWithRedisBuildsLazily(t *testing.T) {
	a, err := New(loadConfig(t, map[string]string{
		"ASSETPROXY_ORIGIN":     "http://origin.test",
		"ASSETPROXY_STORE":      "redis",
		"ASSETPROXY_REDIS_ADDR": "127.0.0.1:1",
	}), Options{})
	require.NoError(t, err)
	require.NoError(t, a.Close(context.Background()))
}

func TestNewCodecEnforcesLimit(t *testing.T) {
	for _, name := range []string{"cbor", "msgpack", "json", "proto"} {
		cd, err := NewCodec(name, 64)
		require.NoError(t, err, name)
		_, err = cd.Encode(assetproxy.Entry{URL: "http://o/", Body: bytes.Repeat([]byte{1}, 128)})
		assert.Error(t, err, name)
	}
	_, err := NewCodec("xml", 0)
	assert.Error(t, err)
}

func TestNewLoggerFormats(t *testing.T) {
	for _, format := range []string{"slog", "zap", "logrus"} {
		var buf bytes.Buffer
		l, err := NewLogger(format, "info", &buf)
		require.NoError(t, err, format)
		l.Debug("hidden", nil)
		l.Info("installed", assetproxy.Fields{"store": "vox-videos-cache"})
		assert.NotContains(t, buf.String(), "hidden", format)
		assert.Contains(t, buf.String(), "vox-videos-cache", format)
	}
	_, err := NewLogger("zap", "loud", io.Discard)
	assert.Error(t, err)
	_, err = NewLogger("xml", "info", io.Discard)
	assert.Error(t, err)
}

func TestNewProviderUnknownStore(t *testing.T) {
	_, _, err := NewProvider(config.Config{Store: "disk"})
	assert.EqualError(t, err, `unknown store "disk"`)
}
