// Package slog adapts a *slog.Logger to assetproxy.Logger.
package slog

import (
	"context"
	stdslog "log/slog"
	"sort"

	"github.com/unkn0wn-root/assetproxy"
)

var _ assetproxy.Logger = Logger{}

type Logger struct{ L *stdslog.Logger }

// New adds component=assetproxy to every record.
func New(l *stdslog.Logger) Logger { return Logger{L: l.With("component", "assetproxy")} }

func (s Logger) Debug(msg string, f assetproxy.Fields) { s.log(stdslog.LevelDebug, msg, f) }
func (s Logger) Info(msg string, f assetproxy.Fields)  { s.log(stdslog.LevelInfo, msg, f) }
func (s Logger) Warn(msg string, f assetproxy.Fields)  { s.log(stdslog.LevelWarn, msg, f) }
func (s Logger) Error(msg string, f assetproxy.Fields) { s.log(stdslog.LevelError, msg, f) }

func (s Logger) log(level stdslog.Level, msg string, f assetproxy.Fields) {
	ctx := context.Background()
	if !s.L.Enabled(ctx, level) {
		return
	}
	s.L.LogAttrs(ctx, level, msg, attrs(f)...)
}

func attrs(f assetproxy.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]stdslog.Attr, 0, len(f))
	for _, k := range keys {
		if err, ok := f[k].(error); ok {
			out = append(out, stdslog.String(k, err.Error()))
			continue
		}
		out = append(out, stdslog.Any(k, f[k]))
	}
	return out
}
