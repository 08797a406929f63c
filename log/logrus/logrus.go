// Package logrus adapts a logrus entry to assetproxy.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/assetproxy"
)

var _ assetproxy.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

// New tags every line with component=assetproxy.
func New(l *logrus.Logger) Logger {
	return Logger{E: l.WithField("component", "assetproxy")}
}

func (l Logger) Debug(msg string, f assetproxy.Fields) { l.with(f).Debug(msg) }
func (l Logger) Info(msg string, f assetproxy.Fields)  { l.with(f).Info(msg) }
func (l Logger) Warn(msg string, f assetproxy.Fields)  { l.with(f).Warn(msg) }
func (l Logger) Error(msg string, f assetproxy.Fields) { l.with(f).Error(msg) }

func (l Logger) with(f assetproxy.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	return l.E.WithFields(logrus.Fields(f))
}
