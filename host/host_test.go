package host

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

func textResponse(req *http.Request, body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func network(body string) rtFunc {
	return func(req *http.Request) (*http.Response, error) { return textResponse(req, body), nil }
}

func TestInstallRetriesUntilListenersSucceed(t *testing.T) {
	var calls atomic.Int32
	var retries []error
	rt := New(Options{
		MaxAttempts:    3,
		BackOff:        backoff.NewConstantBackOff(time.Millisecond),
		OnInstallRetry: func(err error, _ time.Duration) { retries = append(retries, err) },
	})
	rt.OnInstall(func(context.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("seed unavailable")
		}
		return nil
	})

	require.NoError(t, rt.Install(context.Background()))
	assert.Equal(t, StateActivated, rt.State())
	assert.EqualValues(t, 3, calls.Load())
	assert.Len(t, retries, 2)

	// already activated: no further attempts
	require.NoError(t, rt.Install(context.Background()))
	assert.EqualValues(t, 3, calls.Load())
}

func TestInstallFailureReturnsToParsed(t *testing.T) {
	boom := errors.New("logo 404")
	var calls atomic.Int32
	rt := New(Options{MaxAttempts: 2, BackOff: backoff.NewConstantBackOff(time.Millisecond)})
	rt.OnInstall(func(context.Context) error { return nil })
	rt.OnInstall(func(context.Context) error {
		calls.Add(1)
		return boom
	})

	err := rt.Install(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, StateParsed, rt.State())
	assert.EqualValues(t, 2, calls.Load())

	// a failed install can be retried later
	require.ErrorIs(t, rt.Install(context.Background()), boom)
}

func TestInstallWithoutRetryRunsOnce(t *testing.T) {
	var calls atomic.Int32
	rt := New(Options{})
	rt.OnInstall(func(context.Context) error {
		calls.Add(1)
		return errors.New("nope")
	})
	require.Error(t, rt.Install(context.Background()))
	assert.EqualValues(t, 1, calls.Load())
}

func TestConcurrentInstallReportsInProgress(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	rt := New(Options{})
	rt.OnInstall(func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() { done <- rt.Install(context.Background()) }()
	<-started
	assert.Equal(t, StateInstalling, rt.State())
	assert.ErrorIs(t, rt.Install(context.Background()), ErrInstalling)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateActivated, rt.State())
}

func TestRoundTripBypassesListenersUntilActivated(t *testing.T) {
	rt := New(Options{Network: network("network")})
	var fetched atomic.Int32
	rt.OnFetch(func(_ context.Context, req *http.Request) (*http.Response, error) {
		fetched.Add(1)
		return textResponse(req, "listener"), nil
	})
	rt.OnFetch(func(_ context.Context, req *http.Request) (*http.Response, error) {
		t.Error("only the first fetch listener answers")
		return nil, errors.New("unexpected")
	})

	body := func() string {
		req := httptest.NewRequest(http.MethodGet, "http://origin.test/", nil)
		resp, err := rt.RoundTrip(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		b, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return string(b)
	}

	assert.Equal(t, "network", body())
	assert.Zero(t, fetched.Load())

	require.NoError(t, rt.Install(context.Background()))
	assert.Equal(t, "listener", body())
	assert.EqualValues(t, 1, fetched.Load())
}

func TestRoundTripWithoutFetchListenerUsesNetwork(t *testing.T) {
	rt := New(Options{Network: network("network")})
	require.NoError(t, rt.Install(context.Background()))

	resp, err := rt.RoundTrip(httptest.NewRequest(http.MethodGet, "http://origin.test/", nil))
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "network", string(b))
}

func TestHandlerRewritesOntoOrigin(t *testing.T) {
	origin, _ := url.Parse("http://origin.test")
	var seen atomic.Value
	rt := New(Options{Network: rtFunc(func(req *http.Request) (*http.Response, error) {
		seen.Store(req.URL.String())
		return textResponse(req, "from origin"), nil
	})})

	rec := httptest.NewRecorder()
	rt.Handler(origin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://front.test/static/logo/logo.png", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "from origin", rec.Body.String())
	assert.Equal(t, "http://origin.test/static/logo/logo.png", seen.Load())
}

func TestHandlerMapsErrorsToBadGateway(t *testing.T) {
	origin, _ := url.Parse("http://origin.test")
	var logged atomic.Int32
	rt := New(Options{
		Network:  rtFunc(func(*http.Request) (*http.Response, error) { return nil, errors.New("offline") }),
		ErrorLog: func(*http.Request, error) { logged.Add(1) },
	})

	rec := httptest.NewRecorder()
	rt.Handler(origin).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "http://front.test/", nil))

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.EqualValues(t, 1, logged.Load())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "parsed", StateParsed.String())
	assert.Equal(t, "installing", StateInstalling.String())
	assert.Equal(t, "activated", StateActivated.String())
	assert.Equal(t, "unknown", State(9).String())
}
