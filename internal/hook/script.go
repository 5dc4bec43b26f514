package hook

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/artifact"
	"github.com/coral-mesh/macrotap/internal/backend"
)

// DefaultLineRegister holds the pointer to the source line at the breakpoint.
const DefaultLineRegister = "edx"

// ScriptLineHandler captures one line of interpreter source per breakpoint hit.
type ScriptLineHandler struct {
	dbg        backend.Backend
	classifier *artifact.Classifier
	register   string
	logger     zerolog.Logger
}

// NewScriptLineHandler creates a handler reading the line pointer from
// register, or DefaultLineRegister when register is empty.
func NewScriptLineHandler(dbg backend.Backend, classifier *artifact.Classifier, register string, logger zerolog.Logger) *ScriptLineHandler {
	if register == "" {
		register = DefaultLineRegister
	}
	return &ScriptLineHandler{
		dbg:        dbg,
		classifier: classifier,
		register:   register,
		logger:     logger.With().Str("component", "script_line").Logger(),
	}
}

// OnBreakpoint is a backend.BreakpointFunc.
func (h *ScriptLineHandler) OnBreakpoint(ev backend.Event) {
	defer contain(h.logger, ev)

	if err := h.dbg.Suspend(ev.Process); err != nil {
		h.logger.Error().Err(err).Uint32("pid", ev.Process.PID).Msg("Failed to suspend process")
		return
	}
	defer func() {
		if err := h.dbg.Resume(ev.Process); err != nil {
			h.logger.Error().Err(err).Uint32("pid", ev.Process.PID).Msg("Failed to resume process")
		}
	}()

	line, err := h.readLine(ev)
	if err != nil {
		logReadError(h.logger, ev, err, "Failed to read script line")
		return
	}

	path, err := h.classifier.Classify(line)
	if err != nil {
		h.logger.Error().Err(err).Str("path", path).Msg("Failed to append script line")
		return
	}
	h.logger.Debug().Str("path", path).Str("line", line).Msg("Script line")
}

func (h *ScriptLineHandler) readLine(ev backend.Event) (string, error) {
	regs, err := h.dbg.Registers(ev.Process, ev.Thread)
	if err != nil {
		return "", fmt.Errorf("read registers: %w", err)
	}

	ptr, ok := regs.Get(h.register)
	if !ok {
		return "", fmt.Errorf("register %s not in thread context", h.register)
	}

	line, err := h.dbg.ReadString(ev.Process, ptr, false)
	if err != nil {
		return "", fmt.Errorf("read string at %#x: %w", ptr, err)
	}
	return line, nil
}
