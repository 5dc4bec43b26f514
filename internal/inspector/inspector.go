// Package inspector drives a debug session against a document host.
//
// The Inspector attaches to the host, waits for the interpreter module and
// the string deallocation module to load, and instruments each of them once:
// a breakpoint on the interpreter's line-execution routine, located by byte
// signature, and a hook on the export that frees strings. From then on the
// hook handlers turn every trigger into artifacts on disk.
//
// All callbacks arrive on the goroutine running Run, so the Inspector keeps no
// locks. Any code path that suspends the target resumes it before returning.
package inspector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/arch/x86/x86asm"

	"github.com/coral-mesh/macrotap/internal/artifact"
	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/constants"
	"github.com/coral-mesh/macrotap/internal/hook"
	"github.com/coral-mesh/macrotap/internal/locator"
	"github.com/coral-mesh/macrotap/internal/payload"
	"github.com/coral-mesh/macrotap/internal/retry"
	"github.com/coral-mesh/macrotap/internal/scanner"
)

// ErrUnsupportedHost is returned when the script host module does not contain
// the line-execution signature, usually because the host build is unknown.
var ErrUnsupportedHost = errors.New("unsupported host version")

// Options configures an Inspector.
type Options struct {
	// HostExecutable is the image name discovery looks for.
	HostExecutable string
	Modules        ModuleNames
	// StringDeallocExport is hooked in the ModuleStringDealloc module.
	StringDeallocExport string
	// Signature locates the line-execution routine in the script host.
	Signature scanner.Pattern
	// LineRegister holds the source line pointer at the breakpoint.
	LineRegister string

	OutputDir      string
	SeenStringsMax int

	// Poll controls discovery. MaxRetries of zero polls until cancelled.
	Poll retry.Config

	// Now is the artifact clock. Nil means time.Now.
	Now func() time.Time
}

// DefaultOptions returns options for Microsoft Word with VBA.
func DefaultOptions() Options {
	return Options{
		HostExecutable: constants.DefaultHostExecutable,
		Modules: ModuleNames{
			ScriptHost:    constants.DefaultScriptHostModule,
			StringDealloc: constants.DefaultStringDeallocModule,
		},
		StringDeallocExport: constants.DefaultStringDeallocExport,
		Signature:           scanner.MustParse(scanner.DefaultScriptHostSignature),
		LineRegister:        constants.DefaultLineRegister,
		OutputDir:           constants.DefaultOutputDir,
		SeenStringsMax:      constants.DefaultSeenStringsMax,
		Poll: retry.Config{
			InitialBackoff: constants.DefaultPollInterval,
			MaxBackoff:     constants.DefaultMaxPollInterval,
		},
	}
}

type instrumentKey struct {
	pid  uint32
	kind ModuleKind
}

// Inspector implements backend.EventHandler.
type Inspector struct {
	dbg     backend.Backend
	opts    Options
	logger  zerolog.Logger
	session string

	locator *locator.Locator
	scripts *hook.ScriptLineHandler
	freed   *hook.FreedStringHandler

	// instrumenter is the Inspector itself outside of tests.
	instrumenter Instrumenter
	instrumented map[instrumentKey]bool
	targets      map[uint32]backend.Process

	// ctx is the context of the running event loop.
	ctx context.Context
}

// New creates an Inspector for one debug session. Artifacts of the session
// share one naming sequence, so script and binary names never collide.
func New(dbg backend.Backend, opts Options, logger zerolog.Logger) *Inspector {
	session := uuid.NewString()
	logger = logger.With().Str("session", session).Logger()

	namer := artifact.NewNamer(opts.OutputDir, opts.Now)
	classifier := artifact.NewClassifier(artifact.NewSession(), namer, logger)
	detector := payload.NewDetector(namer, logger)

	i := &Inspector{
		dbg:          dbg,
		opts:         opts,
		logger:       logger.With().Str("component", "inspector").Logger(),
		session:      session,
		locator:      locator.New(dbg, logger),
		scripts:      hook.NewScriptLineHandler(dbg, classifier, opts.LineRegister, logger),
		freed:        hook.NewFreedStringHandler(dbg, hook.NewSeenSet(opts.SeenStringsMax), detector, logger),
		instrumented: make(map[instrumentKey]bool),
		targets:      make(map[uint32]backend.Process),
		ctx:          context.Background(),
	}
	i.instrumenter = i
	return i
}

// Session returns the session identifier attached to every log line.
func (i *Inspector) Session() string {
	return i.session
}

// Targets returns the processes currently attached.
func (i *Inspector) Targets() []backend.Process {
	out := make([]backend.Process, 0, len(i.targets))
	for _, p := range i.targets {
		out = append(out, p)
	}
	return out
}

// Run delivers debug events until every target exits or ctx is cancelled.
// On cancellation the remaining targets are detached and left running.
func (i *Inspector) Run(ctx context.Context) error {
	i.ctx = ctx
	defer func() { i.ctx = context.Background() }()

	err := i.dbg.Run(ctx, i)
	if err != nil && ctx.Err() != nil {
		i.detachAll()
		return nil
	}
	if err != nil {
		return fmt.Errorf("debug loop: %w", err)
	}
	return nil
}

func (i *Inspector) detachAll() {
	for pid, p := range i.targets {
		if err := i.dbg.Detach(p); err != nil {
			i.logger.Warn().Err(err).Uint32("pid", pid).Msg("Failed to detach")
			continue
		}
		i.logger.Info().Uint32("pid", pid).Msg("Detached")
		delete(i.targets, pid)
	}
}

// OnModuleLoad implements backend.EventHandler.
func (i *Inspector) OnModuleLoad(ev backend.Event, mod backend.Module) {
	kind := i.opts.Modules.Kind(mod)
	if kind == ModuleOther {
		return
	}

	key := instrumentKey{pid: ev.Process.PID, kind: kind}
	if i.instrumented[key] {
		i.logger.Debug().
			Uint32("pid", ev.Process.PID).
			Str("module", mod.Name).
			Msg("Module already instrumented")
		return
	}

	err := dispatch(i.ctx, i.instrumenter, kind, ev, mod)
	switch {
	case err == nil:
		i.instrumented[key] = true
	case errors.Is(err, ErrUnsupportedHost):
		// The module will not change; scanning it again cannot succeed.
		i.instrumented[key] = true
		i.logger.Error().
			Str("module", mod.Name).
			Msg("Unable to identify interesting opcode, maybe an unsupported host version")
	default:
		i.logger.Error().
			Err(err).
			Uint32("pid", ev.Process.PID).
			Str("module", mod.Name).
			Stringer("kind", kind).
			Msg("Failed to instrument module")
	}
}

// OnProcessExit implements backend.EventHandler.
func (i *Inspector) OnProcessExit(ev backend.Event, exitCode uint32) {
	delete(i.targets, ev.Process.PID)
	for key := range i.instrumented {
		if key.pid == ev.Process.PID {
			delete(i.instrumented, key)
		}
	}
	i.logger.Info().
		Uint32("pid", ev.Process.PID).
		Uint32("exit_code", exitCode).
		Msg("Process exited")
}

// InstrumentScriptHost implements Instrumenter.
func (i *Inspector) InstrumentScriptHost(ctx context.Context, ev backend.Event, mod backend.Module) error {
	return i.withSuspended(ev.Process, func() error {
		info, err := i.locator.Snapshot(ctx, ev.Process, mod.Name)
		if err != nil {
			return err
		}

		offset, ok := scanner.Find(info.Bytes, i.opts.Signature)
		if !ok {
			return fmt.Errorf("%s: %w", info.Name, ErrUnsupportedHost)
		}
		addr := info.Base + uint64(offset)

		if err := i.dbg.SetBreakpoint(ev.Process, addr, i.scripts.OnBreakpoint); err != nil {
			return fmt.Errorf("set breakpoint at %#x: %w", addr, err)
		}
		i.logger.Info().
			Uint32("pid", ev.Process.PID).
			Str("module", info.Name).
			Str("address", fmt.Sprintf("%#x", addr)).
			Str("instruction", siteInstruction(info.Bytes[offset:], addr)).
			Msg("Set script host breakpoint")
		return nil
	})
}

// InstrumentStringDealloc implements Instrumenter.
func (i *Inspector) InstrumentStringDealloc(ctx context.Context, ev backend.Event, mod backend.Module) error {
	return i.withSuspended(ev.Process, func() error {
		if err := ctx.Err(); err != nil {
			return err
		}

		addr, err := i.dbg.ResolveExport(ev.Process, mod, i.opts.StringDeallocExport)
		if err != nil {
			return err
		}
		if err := i.dbg.HookFunction(ev.Process, addr, 1, i.freed.OnCall); err != nil {
			return fmt.Errorf("hook %s at %#x: %w", i.opts.StringDeallocExport, addr, err)
		}
		i.logger.Info().
			Uint32("pid", ev.Process.PID).
			Str("function", i.opts.StringDeallocExport).
			Str("address", fmt.Sprintf("%#x", addr)).
			Msg("Hooked string deallocation function")
		return nil
	})
}

// withSuspended runs fn with p suspended and resumes p afterwards, whatever
// fn returns.
func (i *Inspector) withSuspended(p backend.Process, fn func() error) (err error) {
	if err := i.dbg.Suspend(p); err != nil {
		return fmt.Errorf("suspend pid %d: %w", p.PID, err)
	}
	defer func() {
		if rerr := i.dbg.Resume(p); rerr != nil {
			err = errors.Join(err, fmt.Errorf("resume pid %d: %w", p.PID, rerr))
		}
	}()
	return fn()
}

// siteInstruction disassembles the instruction the breakpoint replaces, or
// returns "" when the bytes do not decode.
func siteInstruction(code []byte, addr uint64) string {
	inst, err := x86asm.Decode(code, 32)
	if err != nil {
		return ""
	}
	return x86asm.IntelSyntax(inst, addr, nil)
}
