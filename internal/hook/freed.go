package hook

import (
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/payload"
)

// MinFreedStringLength is the length a freed string must exceed to be kept.
const MinFreedStringLength = 5

// Inspector receives freed strings that passed the seen filter.
type Inspector interface {
	Inspect(candidate string) (*payload.BinaryArtifact, error)
}

// FreedStringHandler captures strings as the target releases them.
type FreedStringHandler struct {
	dbg      backend.Backend
	seen     *SeenSet
	detector Inspector
	logger   zerolog.Logger
}

// NewFreedStringHandler creates a handler that forwards new strings to detector.
func NewFreedStringHandler(dbg backend.Backend, seen *SeenSet, detector Inspector, logger zerolog.Logger) *FreedStringHandler {
	return &FreedStringHandler{
		dbg:      dbg,
		seen:     seen,
		detector: detector,
		logger:   logger.With().Str("component", "freed_string").Logger(),
	}
}

// OnCall is a backend.HookFunc for a function whose first argument is a
// wide string about to be released.
func (h *FreedStringHandler) OnCall(ev backend.Event, returnAddr uint64, params []uint64) {
	defer contain(h.logger, ev)

	if len(params) == 0 || params[0] == 0 {
		return
	}

	str, err := h.dbg.ReadString(ev.Process, params[0], true)
	if err != nil {
		logReadError(h.logger, ev, err, "Failed to read freed string")
		return
	}

	if utf8.RuneCountInString(str) <= MinFreedStringLength || !h.seen.Add(str) {
		return
	}

	h.logger.Info().
		Uint32("pid", ev.Process.PID).
		Str("caller", formatAddr(returnAddr)).
		Str("value", str).
		Msg("String")

	if _, err := h.detector.Inspect(str); err != nil {
		h.logger.Error().Err(err).Msg("Failed to write possible PE file")
	}
}
