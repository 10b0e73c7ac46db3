// Package zap adapts a zap.Logger to the data source's Logger interface.
package zap

import (
	"go.uber.org/zap"

	datasource "github.com/brandturbo/apollo-datasource-firestore"
)

type Logger struct{ L *zap.Logger }

var _ datasource.Logger = Logger{}

func (z Logger) Debug(msg string, f datasource.Fields) { z.L.Debug(msg, zf(f)...) }
func (z Logger) Info(msg string, f datasource.Fields)  { z.L.Info(msg, zf(f)...) }
func (z Logger) Warn(msg string, f datasource.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z Logger) Error(msg string, f datasource.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f datasource.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}
