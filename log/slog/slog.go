// Package slog adapts a stdlib slog.Logger to the data source's Logger
// interface.
package slog

import (
	"context"
	stdslog "log/slog"

	datasource "github.com/brandturbo/apollo-datasource-firestore"
)

type Logger struct{ L *stdslog.Logger }

var _ datasource.Logger = Logger{}

func (s Logger) Debug(msg string, f datasource.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelDebug, msg, attrs(f)...)
}
func (s Logger) Info(msg string, f datasource.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelInfo, msg, attrs(f)...)
}
func (s Logger) Warn(msg string, f datasource.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelWarn, msg, attrs(f)...)
}
func (s Logger) Error(msg string, f datasource.Fields) {
	s.L.LogAttrs(context.Background(), stdslog.LevelError, msg, attrs(f)...)
}

func attrs(f datasource.Fields) []stdslog.Attr {
	if len(f) == 0 {
		return nil
	}
	out := make([]stdslog.Attr, 0, len(f))
	for k, v := range f {
		out = append(out, stdslog.Any(k, v))
	}
	return out
}
