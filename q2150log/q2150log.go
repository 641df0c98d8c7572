// Package q2150log centralizes the engine's structured logging so every
// component logs through the same logrus instance with a consistent
// "component" field, in the style the corpus uses for device-protocol
// diagnostics (debug-level wire traffic, info-level state transitions,
// warn for dropped lines, error for hard faults).
package q2150log

import (
	"os"

	"github.com/sirupsen/logrus"
)

var base = newBase()

func newBase() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}

// SetLevel sets the base logger's level, e.g. from a config flag.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

// For returns an entry scoped to one named component (e.g. "instrument",
// "recorder", "serialport").
func For(component string) *logrus.Entry {
	return base.WithField("component", component)
}
