package priosched

import (
	"fmt"

	"github.com/joeycumines/logiface"
	stumpy "github.com/joeycumines/stumpy"
)

// Logger is the structured logging facade used throughout this package. It
// is a direct alias over logiface's generic Logger parameterized with
// stumpy's Event implementation, matching the way eventloop depends on
// logiface and logiface-stumpy provides its default backend. Embedders
// that want a different backend (logrus, slog, zerolog, ...) construct
// their own logiface.Logger[*stumpy.Event]-compatible value and pass it
// via WithLogger; this package never imports those alternate backends
// itself.
type Logger = logiface.Logger[*stumpy.Event]

// defaultLogger returns a Logger writing structured JSON lines to stderr
// via stumpy, exactly as logiface-stumpy/example_test.go demonstrates.
func defaultLogger() *Logger {
	return stumpy.L.New(stumpy.L.WithStumpy())
}

// recoverCallbackPanic logs (at debug level, if a logger is configured) a
// panic recovered from a user-registered OnComplete callback, per
// spec.md §7: callback exceptions are swallowed and logged at debug level
// if a logger is available.
func recoverCallbackPanic(log *Logger, recovered any) {
	if recovered == nil || log == nil {
		return
	}
	log.Debug().Str("recovered", fmt.Sprint(recovered)).Log("priosched: callback panicked, swallowed")
}
