// Package logging holds the logrus conventions shared by every component.
package logging

import (
	"io"

	"github.com/sirupsen/logrus"
)

// ComponentKey is the field every component logger is tagged with.
const ComponentKey = "component"

// Discard returns a logger that drops everything.
// Components use it when the caller did not supply one.
func Discard() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

// Component tags log with the component name,
// falling back to [Discard] if log is nil.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	if log == nil {
		log = Discard()
	}
	return log.WithField(ComponentKey, name)
}
