// Package hook implements the callbacks invoked from inside the target when
// an installed breakpoint or function hook fires.
//
// Handlers never return errors to the backend. A failure is confined to the
// single event that triggered it and is only logged.
package hook

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/backend"
)

// logReadError logs a failed target read. A read that simply carried no
// payload is routine and logged at debug; anything else is a fault.
func logReadError(logger zerolog.Logger, ev backend.Event, err error, msg string) {
	level := zerolog.WarnLevel
	if errors.Is(err, backend.ErrNoData) {
		level = zerolog.DebugLevel
	}
	logger.WithLevel(level).
		Err(err).
		Uint32("pid", ev.Process.PID).
		Uint32("tid", ev.Thread).
		Msg(msg)
}

// contain stops a panic raised while handling ev from reaching the backend.
func contain(logger zerolog.Logger, ev backend.Event) {
	if r := recover(); r != nil {
		logger.Debug().
			Str("panic", fmt.Sprint(r)).
			Uint32("pid", ev.Process.PID).
			Uint32("tid", ev.Thread).
			Msg("Recovered from handler panic")
	}
}

func formatAddr(addr uint64) string {
	return fmt.Sprintf("%#x", addr)
}
