// Package logging configures the process-wide structured logger. dcompass
// logs through a single logrus instance, the way
// mikispag-dns-over-tls-forwarder's proxy package calls the package-level
// logrus logger directly rather than threading a logger through every call.
package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/dcompass-go/dcompass/internal/errs"
)

// Configure sets the global logrus level from the config document's
// verbosity enum. Unknown values are rejected so bad config fails fast at
// startup instead of silently logging at the wrong level.
func Configure(verbosity string) error {
	if verbosity == "" {
		verbosity = "info"
	}
	if verbosity == "off" {
		logrus.SetLevel(logrus.PanicLevel)
		logrus.SetOutput(noopWriter{})
		return nil
	}

	level, err := logrus.ParseLevel(verbosity)
	if err != nil {
		return errs.Config("logging.verbosity", fmt.Errorf("unknown verbosity %q: %w", verbosity, err))
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return nil
}

type noopWriter struct{}

func (noopWriter) Write(p []byte) (int, error) { return len(p), nil }

// WarnError logs err at warn level with its error Kind attached, per
// spec.md §7: "Logs record the structured error kind at warn."
func WarnError(op string, err error) {
	if err == nil {
		return
	}
	kind, ok := errs.KindOf(err)
	if !ok {
		kind = "unknown"
	}
	logrus.WithField("kind", kind).WithField("op", op).Warn(err)
}
