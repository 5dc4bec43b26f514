package inspector

import (
	"context"

	"github.com/coral-mesh/macrotap/internal/backend"
)

// ModuleKind is the role a loaded module plays for instrumentation.
type ModuleKind int

const (
	// ModuleOther is any module that is not instrumented.
	ModuleOther ModuleKind = iota
	// ModuleScriptHost hosts the interpreter's line-execution routine.
	ModuleScriptHost
	// ModuleStringDealloc exports the string deallocation function.
	ModuleStringDealloc
)

func (k ModuleKind) String() string {
	switch k {
	case ModuleScriptHost:
		return "script_host"
	case ModuleStringDealloc:
		return "string_dealloc"
	default:
		return "other"
	}
}

// ModuleNames maps module file names to kinds.
type ModuleNames struct {
	ScriptHost    string
	StringDealloc string
}

// Kind resolves the role of mod. Names compare without regard to case.
func (n ModuleNames) Kind(mod backend.Module) ModuleKind {
	switch {
	case n.ScriptHost != "" && mod.MatchName(n.ScriptHost):
		return ModuleScriptHost
	case n.StringDealloc != "" && mod.MatchName(n.StringDealloc):
		return ModuleStringDealloc
	default:
		return ModuleOther
	}
}

// Instrumenter installs the instrumentation for each module kind. Both
// methods run with ev.Process attached and are called at most once per
// process.
type Instrumenter interface {
	InstrumentScriptHost(ctx context.Context, ev backend.Event, mod backend.Module) error
	InstrumentStringDealloc(ctx context.Context, ev backend.Event, mod backend.Module) error
}

// dispatch routes mod to the Instrumenter method for kind.
func dispatch(ctx context.Context, in Instrumenter, kind ModuleKind, ev backend.Event, mod backend.Module) error {
	switch kind {
	case ModuleScriptHost:
		return in.InstrumentScriptHost(ctx, ev, mod)
	case ModuleStringDealloc:
		return in.InstrumentStringDealloc(ctx, ev, mod)
	default:
		return nil
	}
}
