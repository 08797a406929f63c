package slog

import (
	"bytes"
	"encoding/json"
	"errors"
	stdslog "log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/assetproxy"
)

func TestLoggerWritesFieldsAndRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(stdslog.New(stdslog.NewJSONHandler(&buf, &stdslog.HandlerOptions{Level: stdslog.LevelInfo})))

	l.Debug("dropped", assetproxy.Fields{"x": 1})
	l.Error("install failed", assetproxy.Fields{"store": "vox-videos-cache", "err": errors.New("404")})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "ERROR", rec["level"])
	assert.Equal(t, "install failed", rec["msg"])
	assert.Equal(t, "assetproxy", rec["component"])
	assert.Equal(t, "vox-videos-cache", rec["store"])
	assert.Equal(t, "404", rec["err"])
}
