package goroutine

import (
	"bastion/metrics"
	"errors"
	"fmt"
	"os"
	"runtime"

	"go.uber.org/zap"
)

// stackBufferSize bounds the stack captured for a recovered panic
const stackBufferSize = 4096

// ErrPanic is wrapped by the error Guard returns for a panicking task
var ErrPanic = errors.New("task panicked")

// Recover logs a panic raised in the calling goroutine and swallows it.
// It must be deferred directly. With a nil logger the panic goes to stderr.
func Recover(name string, logger *zap.SugaredLogger) {
	if r := recover(); r != nil {
		logPanic(name, r, logger)
	}
}

// Guard runs fn and turns a panic into an error wrapping ErrPanic, so a
// supervisor can treat a crashed task like one that returned an error.
func Guard(name string, logger *zap.SugaredLogger, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(name, r, logger)
			err = fmt.Errorf("%s: %w: %v", name, ErrPanic, r)
		}
	}()
	return fn()
}

func logPanic(name string, r any, logger *zap.SugaredLogger) {
	buf := make([]byte, stackBufferSize)
	n := runtime.Stack(buf, false)
	metrics.TaskPanics.WithLabelValues(name).Inc()

	if logger != nil {
		logger.Errorw("Goroutine panic recovered",
			"goroutine", name,
			"panic", r,
			"stack", string(buf[:n]))
		return
	}
	fmt.Fprintf(os.Stderr, "PANIC in goroutine %s (no logger): %v\n%s\n", name, r, string(buf[:n]))
}
