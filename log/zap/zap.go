// Package zap adapts a *zap.Logger to assetproxy.Logger.
package zap

import (
	"sort"

	"go.uber.org/zap"

	"github.com/unkn0wn-root/assetproxy"
)

var _ assetproxy.Logger = Logger{}

type Logger struct{ L *zap.Logger }

// New names the logger "assetproxy" so proxy output is easy to filter.
func New(l *zap.Logger) Logger { return Logger{L: l.Named("assetproxy")} }

func (z Logger) Debug(msg string, f assetproxy.Fields) { z.L.Debug(msg, fields(f)...) }
func (z Logger) Info(msg string, f assetproxy.Fields)  { z.L.Info(msg, fields(f)...) }
func (z Logger) Warn(msg string, f assetproxy.Fields)  { z.L.Warn(msg, fields(f)...) }
func (z Logger) Error(msg string, f assetproxy.Fields) { z.L.Error(msg, fields(f)...) }

// fields emits keys in sorted order; errors use zap.NamedError.
func fields(f assetproxy.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(f))
	for _, k := range keys {
		switch v := f[k].(type) {
		case error:
			out = append(out, zap.NamedError(k, v))
		default:
			out = append(out, zap.Any(k, v))
		}
	}
	return out
}
