//go:build windows

package windbg

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sys/windows"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/backend/procs"
)

// waitTimeout bounds each wait for a debug event so cancellation is noticed.
const waitTimeout = 200 // milliseconds

const int3 = 0xCC

type breakpoint struct {
	addr uint64
	orig byte
	fn   func(ev backend.Event, ctx *x86Context)
}

type target struct {
	proc    backend.Process
	handle  windows.Handle
	threads map[uint32]windows.Handle
	modules []backend.Module

	breakpoints map[uint64]*breakpoint
	// rearm maps a thread single-stepping over a breakpoint to its address.
	rearm map[uint32]uint64

	loaderBreak    bool
	wowLoaderBreak bool
}

// Backend debugs 32-bit processes through the Windows debug API.
//
// The debug API binds a debuggee to the OS thread that attached to it, so
// Attach, Run and Detach execute on one locked goroutine. Callbacks run on
// that goroutine as well and may call back into the Backend freely.
type Backend struct {
	logger zerolog.Logger
	lister *procs.Lister

	mu      sync.Mutex
	targets map[uint32]*target

	startOnce sync.Once
	work      chan func()
}

// New creates a Backend.
func New(logger zerolog.Logger) *Backend {
	return &Backend{
		logger:  logger.With().Str("component", "windbg").Logger(),
		lister:  procs.NewLister(logger),
		targets: make(map[uint32]*target),
	}
}

// onDebugThread runs fn on the goroutine owning the debug session.
func (b *Backend) onDebugThread(fn func() error) error {
	b.startOnce.Do(func() {
		b.work = make(chan func())
		go func() {
			runtime.LockOSThread()
			for f := range b.work {
				f()
			}
		}()
	})

	done := make(chan error, 1)
	b.work <- func() { done <- fn() }
	return <-done
}

func (b *Backend) target(pid uint32) (*target, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.targets[pid]
	if !ok {
		return nil, fmt.Errorf("pid %d not attached: %w", pid, backend.ErrProcessNotFound)
	}
	return t, nil
}

// Processes implements backend.Backend.
func (b *Backend) Processes(ctx context.Context) ([]backend.ProcessInfo, error) {
	return b.lister.Processes(ctx)
}

// Attach implements backend.Backend.
func (b *Backend) Attach(ctx context.Context, pid uint32) (backend.Process, error) {
	if err := ctx.Err(); err != nil {
		return backend.Process{}, err
	}

	handle, err := windows.OpenProcess(windows.PROCESS_ALL_ACCESS, false, pid)
	if err != nil {
		return backend.Process{}, fmt.Errorf("open pid %d: %w", pid, err)
	}

	if !nativeX86 {
		var wow64 bool
		if err := windows.IsWow64Process(handle, &wow64); err != nil {
			_ = windows.CloseHandle(handle)
			return backend.Process{}, fmt.Errorf("query pid %d architecture: %w", pid, err)
		}
		if !wow64 {
			_ = windows.CloseHandle(handle)
			return backend.Process{}, fmt.Errorf("pid %d is a 64-bit process: %w", pid, backend.ErrUnsupportedPlatform)
		}
	}

	err = b.onDebugThread(func() error {
		if err := debugActiveProcess(pid); err != nil {
			return err
		}
		return debugSetProcessKillOnExit(false)
	})
	if err != nil {
		_ = windows.CloseHandle(handle)
		return backend.Process{}, fmt.Errorf("debug pid %d: %w", pid, err)
	}

	p := backend.Process{PID: pid, Name: imageName(handle)}
	b.mu.Lock()
	b.targets[pid] = &target{
		proc:        p,
		handle:      handle,
		threads:     make(map[uint32]windows.Handle),
		breakpoints: make(map[uint64]*breakpoint),
		rearm:       make(map[uint32]uint64),
	}
	b.mu.Unlock()

	b.logger.Debug().Uint32("pid", pid).Str("name", p.Name).Msg("Attached")
	return p, nil
}

// Detach implements backend.Backend. Installed breakpoints are removed first
// so the target keeps running normally.
func (b *Backend) Detach(p backend.Process) error {
	t, err := b.target(p.PID)
	if err != nil {
		return err
	}

	for addr, bp := range t.breakpoints {
		if rearmPending(t, addr) {
			continue
		}
		if err := b.writeByte(t, addr, bp.orig); err != nil {
			b.logger.Warn().Err(err).Str("address", fmt.Sprintf("%#x", addr)).Msg("Failed to remove breakpoint")
		}
	}
	for tid := range t.rearm {
		if err := b.clearTrap(t, tid); err != nil {
			b.logger.Warn().Err(err).Uint32("tid", tid).Msg("Failed to clear single-step flag")
		}
	}
	clear(t.rearm)

	err = b.onDebugThread(func() error {
		return debugActiveProcessStop(p.PID)
	})

	b.mu.Lock()
	delete(b.targets, p.PID)
	b.mu.Unlock()
	_ = windows.CloseHandle(t.handle)

	if err != nil {
		return fmt.Errorf("stop debugging pid %d: %w", p.PID, err)
	}
	return nil
}

// rearmPending reports whether addr is mid step-over, with its original byte
// already restored.
func rearmPending(t *target, addr uint64) bool {
	for _, a := range t.rearm {
		if a == addr {
			return true
		}
	}
	return false
}

// Suspend implements backend.Backend.
func (b *Backend) Suspend(p backend.Process) error {
	t, err := b.target(p.PID)
	if err != nil {
		return err
	}
	return ntSuspendProcess(t.handle)
}

// Resume implements backend.Backend.
func (b *Backend) Resume(p backend.Process) error {
	t, err := b.target(p.PID)
	if err != nil {
		return err
	}
	return ntResumeProcess(t.handle)
}

// Modules implements backend.Backend.
func (b *Backend) Modules(p backend.Process) ([]backend.Module, error) {
	t, err := b.target(p.PID)
	if err != nil {
		return nil, err
	}
	return append([]backend.Module(nil), t.modules...), nil
}

// ReadMemory implements backend.Backend. Bytes replaced by breakpoints read
// back as their original values.
func (b *Backend) ReadMemory(p backend.Process, addr uint64, length int) ([]byte, error) {
	t, err := b.target(p.PID)
	if err != nil {
		return nil, err
	}
	buf, err := readMemory(t.handle, addr, length)
	if err != nil {
		return nil, err
	}
	for at, bp := range t.breakpoints {
		if at >= addr && at < addr+uint64(length) {
			buf[at-addr] = bp.orig
		}
	}
	return buf, nil
}

func readMemory(handle windows.Handle, addr uint64, length int) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	var n uintptr
	if err := windows.ReadProcessMemory(handle, uintptr(addr), &buf[0], uintptr(length), &n); err != nil {
		return nil, fmt.Errorf("read %d bytes at %#x: %w", length, addr, err)
	}
	if int(n) != length {
		return nil, fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, length)
	}
	return buf, nil
}

func (b *Backend) reader(t *target) readFunc {
	return func(addr uint64, length int) ([]byte, error) {
		return readMemory(t.handle, addr, length)
	}
}

// ReadString implements backend.Backend.
func (b *Backend) ReadString(p backend.Process, addr uint64, wide bool) (string, error) {
	t, err := b.target(p.PID)
	if err != nil {
		return "", err
	}
	return readString(b.reader(t), addr, wide, maxStringBytes)
}

// Registers implements backend.Backend.
func (b *Backend) Registers(p backend.Process, thread uint32) (backend.Registers, error) {
	t, err := b.target(p.PID)
	if err != nil {
		return nil, err
	}
	ctx, err := b.context(t, thread)
	if err != nil {
		return nil, err
	}
	return ctx.registers(), nil
}

func (b *Backend) threadHandle(t *target, tid uint32) (windows.Handle, error) {
	if h, ok := t.threads[tid]; ok {
		return h, nil
	}
	h, err := windows.OpenThread(windows.THREAD_GET_CONTEXT|windows.THREAD_SET_CONTEXT|windows.THREAD_SUSPEND_RESUME, false, tid)
	if err != nil {
		return 0, fmt.Errorf("open thread %d: %w", tid, err)
	}
	t.threads[tid] = h
	return h, nil
}

func (b *Backend) context(t *target, tid uint32) (*x86Context, error) {
	h, err := b.threadHandle(t, tid)
	if err != nil {
		return nil, err
	}
	var ctx x86Context
	if err := getThreadContext(h, &ctx); err != nil {
		return nil, fmt.Errorf("get context of thread %d: %w", tid, err)
	}
	return &ctx, nil
}

// SetBreakpoint implements backend.Backend.
func (b *Backend) SetBreakpoint(p backend.Process, addr uint64, fn backend.BreakpointFunc) error {
	t, err := b.target(p.PID)
	if err != nil {
		return err
	}
	return b.install(t, addr, func(ev backend.Event, _ *x86Context) {
		fn(ev)
	})
}

// HookFunction implements backend.Backend. The hook is a breakpoint on the
// first instruction; arguments are read from the stack, so it supports the
// 32-bit stdcall and cdecl conventions.
func (b *Backend) HookFunction(p backend.Process, addr uint64, paramCount int, fn backend.HookFunc) error {
	t, err := b.target(p.PID)
	if err != nil {
		return err
	}
	read := b.reader(t)
	return b.install(t, addr, func(ev backend.Event, ctx *x86Context) {
		ret, params, err := callFrame(read, uint64(ctx.Esp), paramCount)
		if err != nil {
			b.logger.Debug().Err(err).Uint32("tid", ev.Thread).Msg("Failed to read hook arguments")
			return
		}
		fn(ev, ret, params)
	})
}

func (b *Backend) install(t *target, addr uint64, fn func(backend.Event, *x86Context)) error {
	if _, ok := t.breakpoints[addr]; ok {
		return fmt.Errorf("breakpoint at %#x already set", addr)
	}

	orig, err := readMemory(t.handle, addr, 1)
	if err != nil {
		return err
	}
	if err := b.writeByte(t, addr, int3); err != nil {
		return err
	}
	t.breakpoints[addr] = &breakpoint{addr: addr, orig: orig[0], fn: fn}
	return nil
}

func (b *Backend) writeByte(t *target, addr uint64, v byte) error {
	var old uint32
	if err := windows.VirtualProtectEx(t.handle, uintptr(addr), 1, windows.PAGE_EXECUTE_READWRITE, &old); err != nil {
		return fmt.Errorf("unprotect %#x: %w", addr, err)
	}
	defer func() {
		var ignored uint32
		_ = windows.VirtualProtectEx(t.handle, uintptr(addr), 1, old, &ignored)
	}()

	var n uintptr
	if err := windows.WriteProcessMemory(t.handle, uintptr(addr), &v, 1, &n); err != nil {
		return fmt.Errorf("write %#x: %w", addr, err)
	}
	return flushInstructionCache(t.handle, uintptr(addr), 1)
}

// ResolveExport implements backend.Backend.
func (b *Backend) ResolveExport(p backend.Process, mod backend.Module, name string) (uint64, error) {
	t, err := b.target(p.PID)
	if err != nil {
		return 0, err
	}
	return resolveExport(b.reader(t), mod.Base, mod.Name, name)
}

// Run implements backend.Backend.
func (b *Backend) Run(ctx context.Context, h backend.EventHandler) error {
	return b.onDebugThread(func() error {
		return b.loop(ctx, h)
	})
}

func (b *Backend) loop(ctx context.Context, h backend.EventHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		b.mu.Lock()
		remaining := len(b.targets)
		b.mu.Unlock()
		if remaining == 0 {
			return nil
		}

		var ev debugEvent
		if err := waitForDebugEvent(&ev, waitTimeout); err != nil {
			if errors.Is(err, windows.ERROR_SEM_TIMEOUT) {
				continue
			}
			return fmt.Errorf("wait for debug event: %w", err)
		}

		status := b.dispatch(&ev, h)
		if err := continueDebugEvent(ev.ProcessID, ev.ThreadID, status); err != nil {
			return fmt.Errorf("continue debug event: %w", err)
		}
	}
}

func (b *Backend) dispatch(ev *debugEvent, h backend.EventHandler) uint32 {
	t, err := b.target(ev.ProcessID)
	if err != nil {
		return dbgContinue
	}
	event := backend.Event{Process: t.proc, Thread: ev.ThreadID}

	switch ev.Code {
	case createProcessDebugEvent:
		info := ev.createProcess()
		t.threads[ev.ThreadID] = info.Thread
		mod := b.module(t, info.File, uint64(info.BaseOfImage))
		if t.proc.Name == "" {
			t.proc.Name = mod.Name
		}
		event.Address = mod.Base
		h.OnModuleLoad(event, mod)

	case createThreadDebugEvent:
		t.threads[ev.ThreadID] = ev.createThread().Thread

	case exitThreadDebugEvent:
		delete(t.threads, ev.ThreadID)
		delete(t.rearm, ev.ThreadID)

	case loadDLLDebugEvent:
		info := ev.loadDLL()
		mod := b.module(t, info.File, uint64(info.BaseOfDLL))
		event.Address = mod.Base
		h.OnModuleLoad(event, mod)

	case unloadDLLDebugEvent:
		base := uint64(ev.unloadDLL().BaseOfDLL)
		for i, m := range t.modules {
			if m.Base == base {
				t.modules = append(t.modules[:i], t.modules[i+1:]...)
				break
			}
		}

	case exceptionDebugEvent:
		return b.exception(t, ev, event)

	case exitProcessDebugEvent:
		h.OnProcessExit(event, ev.exitProcess().ExitCode)
		b.mu.Lock()
		delete(b.targets, ev.ProcessID)
		b.mu.Unlock()
		_ = windows.CloseHandle(t.handle)
	}

	return dbgContinue
}

// module records a mapped image and closes the file handle the debug API
// passed along with it.
func (b *Backend) module(t *target, file windows.Handle, base uint64) backend.Module {
	mod := backend.Module{Base: base}
	if file != 0 {
		mod.Path = finalPath(file)
		_ = windows.CloseHandle(file)
	}
	if mod.Path != "" {
		mod.Name = filepath.Base(mod.Path)
	} else {
		mod.Name = fmt.Sprintf("image_%x", base)
	}
	if size, err := imageSize(b.reader(t), base); err == nil {
		mod.Size = uint64(size)
	}

	t.modules = append(t.modules, mod)
	b.logger.Debug().
		Uint32("pid", t.proc.PID).
		Str("module", mod.Name).
		Str("base", fmt.Sprintf("%#x", base)).
		Msg("Module loaded")
	return mod
}

func (b *Backend) exception(t *target, ev *debugEvent, event backend.Event) uint32 {
	info := ev.exception()
	code := windows.NTStatus(info.Record.ExceptionCode)
	addr := uint64(info.Record.ExceptionAddress)
	event.Address = addr

	switch code {
	case windows.STATUS_BREAKPOINT, windows.STATUS_WX86_BREAKPOINT:
		bp, ok := t.breakpoints[addr]
		if !ok {
			return b.foreignBreakpoint(t, code)
		}
		if err := b.stepOver(t, ev.ThreadID, bp); err != nil {
			b.logger.Error().Err(err).Str("address", fmt.Sprintf("%#x", addr)).Msg("Failed to step over breakpoint")
			return dbgContinue
		}
		ctx, err := b.context(t, ev.ThreadID)
		if err != nil {
			b.logger.Error().Err(err).Msg("Failed to read breakpoint context")
			return dbgContinue
		}
		bp.fn(event, ctx)
		return dbgContinue

	case windows.STATUS_SINGLE_STEP, windows.STATUS_WX86_SINGLE_STEP:
		at, ok := t.rearm[ev.ThreadID]
		if !ok {
			return dbgExceptionNotHandled
		}
		delete(t.rearm, ev.ThreadID)
		if _, still := t.breakpoints[at]; still {
			if err := b.writeByte(t, at, int3); err != nil {
				b.logger.Error().Err(err).Str("address", fmt.Sprintf("%#x", at)).Msg("Failed to re-arm breakpoint")
			}
		}
		return dbgContinue
	}

	return dbgExceptionNotHandled
}

// foreignBreakpoint handles breakpoints this backend did not install. The
// loader raises one on attach, plus one more from the WOW64 layer.
func (b *Backend) foreignBreakpoint(t *target, code windows.NTStatus) uint32 {
	switch {
	case code == windows.STATUS_BREAKPOINT && !t.loaderBreak:
		t.loaderBreak = true
		return dbgContinue
	case code == windows.STATUS_WX86_BREAKPOINT && !t.wowLoaderBreak:
		t.wowLoaderBreak = true
		return dbgContinue
	}
	return dbgExceptionNotHandled
}

// stepOver rewinds the thread onto the original instruction and single-steps
// it. The breakpoint is written back on the following single-step event.
func (b *Backend) stepOver(t *target, tid uint32, bp *breakpoint) error {
	ctx, err := b.context(t, tid)
	if err != nil {
		return err
	}
	ctx.Eip = uint32(bp.addr)
	ctx.singleStep(true)

	h, err := b.threadHandle(t, tid)
	if err != nil {
		return err
	}
	if err := setThreadContext(h, ctx); err != nil {
		return fmt.Errorf("set context of thread %d: %w", tid, err)
	}
	if err := b.writeByte(t, bp.addr, bp.orig); err != nil {
		return err
	}
	t.rearm[tid] = bp.addr
	return nil
}

// clearTrap drops the trap flag stepOver set, so no single-step exception
// reaches a thread after the debugger is gone.
func (b *Backend) clearTrap(t *target, tid uint32) error {
	ctx, err := b.context(t, tid)
	if err != nil {
		return err
	}
	if !ctx.stepping() {
		return nil
	}
	ctx.singleStep(false)

	h, err := b.threadHandle(t, tid)
	if err != nil {
		return err
	}
	if err := setThreadContext(h, ctx); err != nil {
		return fmt.Errorf("set context of thread %d: %w", tid, err)
	}
	return nil
}

func finalPath(file windows.Handle) string {
	buf := make([]uint16, windows.MAX_LONG_PATH)
	n, err := windows.GetFinalPathNameByHandle(file, &buf[0], uint32(len(buf)), 0)
	if err != nil || n == 0 || int(n) > len(buf) {
		return ""
	}
	return strings.TrimPrefix(windows.UTF16ToString(buf[:n]), `\\?\`)
}

func imageName(process windows.Handle) string {
	buf := make([]uint16, windows.MAX_LONG_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(process, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}

var _ backend.Backend = (*Backend)(nil)
