package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/assetproxy/internal/config"
)

func testOrigin(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.Header().Set("Content-Type", "text/html")
			_, _ = io.WriteString(w, "<html>vox</html>")
		case "/static/logo/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(make([]byte, 2048))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cfg, err := config.LoadFrom(map[string]string{})
	require.NoError(t, err)

	var out bytes.Buffer
	cmd := newRootCommand(cfg)
	cmd.Writer = &out
	cmd.ErrWriter = io.Discard
	err = cmd.Run(context.Background(), append([]string{"assetproxy"}, args...))
	return out.String(), err
}

func TestInstallCommand(t *testing.T) {
	srv := testOrigin(t)
	out, err := run(t, "--origin", srv.URL, "install")
	require.NoError(t, err)
	assert.Equal(t, "installed 2 seeds into \"vox-videos-cache\"\n", out)
}

func TestInstallCommandFailsOnMissingSeed(t *testing.T) {
	srv := testOrigin(t)
	_, err := run(t, "--origin", srv.URL, "--seed", "/missing.png", "--install-attempts", "1", "install")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestInspectCommandListsEntries(t *testing.T) {
	srv := testOrigin(t)
	out, err := run(t, "--origin", srv.URL, "--codec", "proto", "inspect", "--install")
	require.NoError(t, err)

	assert.Contains(t, out, "stores: 1\n  vox-videos-cache\n")
	assert.Contains(t, out, srv.URL+"/static/logo/logo.png")
	assert.Contains(t, out, "image/png")
	assert.Contains(t, out, "2.0 kB")
	assert.Contains(t, out, "vox-videos-cache: 2 entries")
}

func TestInspectAndDeleteWithoutStore(t *testing.T) {
	srv := testOrigin(t)

	out, err := run(t, "--origin", srv.URL, "inspect")
	require.NoError(t, err)
	assert.Contains(t, out, "no store \"vox-videos-cache\"")

	out, err = run(t, "--origin", srv.URL, "delete")
	require.NoError(t, err)
	assert.Equal(t, "no store \"vox-videos-cache\"\n", out)
}

func TestServeRequiresOrigin(t *testing.T) {
	_, err := run(t, "serve")
	require.Error(t, err)
}
