// Package logrus adapts a logrus.Entry to the data source's Logger
// interface.
package logrus

import (
	"github.com/sirupsen/logrus"

	datasource "github.com/brandturbo/apollo-datasource-firestore"
)

type Logger struct{ E *logrus.Entry }

var _ datasource.Logger = Logger{}

func (l Logger) Debug(msg string, f datasource.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l Logger) Info(msg string, f datasource.Fields) {
	l.E.WithFields(logrus.Fields(f)).Info(msg)
}
func (l Logger) Warn(msg string, f datasource.Fields) {
	l.E.WithFields(logrus.Fields(f)).Warn(msg)
}
func (l Logger) Error(msg string, f datasource.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
