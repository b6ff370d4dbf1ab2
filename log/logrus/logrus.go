// Package logrus adapts a *logrus.Entry to tagcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/tagcache"
)

var _ tagcache.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

func (l LogrusLogger) Debug(msg string, f tagcache.Fields) { l.with(f).Debug(msg) }
func (l LogrusLogger) Info(msg string, f tagcache.Fields)  { l.with(f).Info(msg) }
func (l LogrusLogger) Warn(msg string, f tagcache.Fields)  { l.with(f).Warn(msg) }
func (l LogrusLogger) Error(msg string, f tagcache.Fields) { l.with(f).Error(msg) }

// with moves an error under "err" to logrus' own error key.
func (l LogrusLogger) with(f tagcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	e := l.E
	fs := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			e = e.WithError(err)
			continue
		}
		fs[k] = v
	}
	return e.WithFields(fs)
}

// New returns an entry on a JSON logger at level ("" => info).
func New(level string) (*logrus.Entry, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	if level != "" {
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			return nil, err
		}
		l.SetLevel(lvl)
	}
	return logrus.NewEntry(l), nil
}
