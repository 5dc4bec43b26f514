// Package fakedbg provides a scripted in-memory backend.Backend for tests.
//
// Memory, modules, registers and exports are seeded up front; module loads
// and process exit are queued and replayed by Run in order. Breakpoints and
// hooks installed through the backend can be triggered with HitBreakpoint and
// CallHook to drive handlers exactly as a real debug loop would.
package fakedbg

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"unicode/utf16"

	"github.com/coral-mesh/macrotap/internal/backend"
)

// MaxStringLength bounds ReadString like a real backend would.
const MaxStringLength = 0x10000

// Breakpoint records a SetBreakpoint call.
type Breakpoint struct {
	PID  uint32
	Addr uint64
	Fn   backend.BreakpointFunc
}

// Hook records a HookFunction call.
type Hook struct {
	PID        uint32
	Addr       uint64
	ParamCount int
	Fn         backend.HookFunc
}

type region struct {
	base uint64
	data []byte
}

// Backend is the fake. The zero value is not usable; call New.
type Backend struct {
	mu sync.Mutex

	processes []backend.ProcessInfo
	modules   map[uint32][]backend.Module
	memory    map[uint32][]region
	registers map[uint32]backend.Registers
	exports   map[string]uint64
	attached  map[uint32]bool
	suspended map[uint32]int
	queue     []func(h backend.EventHandler)

	breakpoints []Breakpoint
	hooks       []Hook

	// Block makes Run wait for ctx after the queue drains instead of
	// reporting the target as exited.
	Block bool

	// Failure injection.
	AttachErr    error
	RegistersErr error
	ReadErr      error
	// PanicOnRead makes ReadString panic, as a misbehaving backend might.
	PanicOnRead bool

	SuspendCalls   int
	ResumeCalls    int
	ProcessesCalls int
}

// New creates an empty fake backend.
func New() *Backend {
	return &Backend{
		modules:   make(map[uint32][]backend.Module),
		memory:    make(map[uint32][]region),
		registers: make(map[uint32]backend.Registers),
		exports:   make(map[string]uint64),
		attached:  make(map[uint32]bool),
		suspended: make(map[uint32]int),
	}
}

// AddProcess makes a process visible to Processes and Attach.
func (b *Backend) AddProcess(pid uint32, name, exe string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.processes = append(b.processes, backend.ProcessInfo{PID: pid, Name: name, Exe: exe})
}

// AddModule registers a loaded module and maps image at its base.
func (b *Backend) AddModule(pid uint32, mod backend.Module, image []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if mod.Size == 0 {
		mod.Size = uint64(len(image))
	}
	b.modules[pid] = append(b.modules[pid], mod)
	if len(image) > 0 {
		b.memory[pid] = append(b.memory[pid], region{base: mod.Base, data: image})
	}
}

// WriteMemory maps data at addr in pid.
func (b *Backend) WriteMemory(pid uint32, addr uint64, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.memory[pid] = append(b.memory[pid], region{base: addr, data: append([]byte(nil), data...)})
}

// WriteString maps a null-terminated narrow string at addr.
func (b *Backend) WriteString(pid uint32, addr uint64, s string) {
	b.WriteMemory(pid, addr, append([]byte(s), 0))
}

// WriteWideString maps a null-terminated UTF-16LE string at addr.
func (b *Backend) WriteWideString(pid uint32, addr uint64, s string) {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, 2*len(units)+2)
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	b.WriteMemory(pid, addr, append(buf, 0, 0))
}

// SetRegisters sets the registers returned for thread.
func (b *Backend) SetRegisters(thread uint32, regs backend.Registers) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registers[thread] = regs
}

// SetExport makes ResolveExport return addr for module!name.
func (b *Backend) SetExport(module, name string, addr uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exports[exportKey(module, name)] = addr
}

// QueueModuleLoad schedules a module-load event for Run. The module is
// registered with AddModule when the event fires.
func (b *Backend) QueueModuleLoad(pid uint32, mod backend.Module, image []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, func(h backend.EventHandler) {
		b.AddModule(pid, mod, image)
		h.OnModuleLoad(backend.Event{Process: b.process(pid), Address: mod.Base}, mod)
	})
}

// QueueFunc schedules an arbitrary step for Run, such as a breakpoint hit.
func (b *Backend) QueueFunc(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, func(backend.EventHandler) { fn() })
}

// Breakpoints returns the installed breakpoints.
func (b *Backend) Breakpoints() []Breakpoint {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Breakpoint(nil), b.breakpoints...)
}

// Hooks returns the installed function hooks.
func (b *Backend) Hooks() []Hook {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Hook(nil), b.hooks...)
}

// SuspendDepth returns outstanding suspends for pid.
func (b *Backend) SuspendDepth(pid uint32) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.suspended[pid]
}

// HitBreakpoint fires every breakpoint installed at addr in pid.
func (b *Backend) HitBreakpoint(pid, thread uint32, addr uint64) int {
	ev := backend.Event{Process: b.process(pid), Thread: thread, Address: addr}
	hits := 0
	for _, bp := range b.Breakpoints() {
		if bp.PID == pid && bp.Addr == addr {
			bp.Fn(ev)
			hits++
		}
	}
	return hits
}

// CallHook fires every hook installed at addr in pid.
func (b *Backend) CallHook(pid, thread uint32, addr, returnAddr uint64, params ...uint64) int {
	ev := backend.Event{Process: b.process(pid), Thread: thread, Address: addr}
	calls := 0
	for _, hk := range b.Hooks() {
		if hk.PID != pid || hk.Addr != addr {
			continue
		}
		args := make([]uint64, hk.ParamCount)
		copy(args, params)
		hk.Fn(ev, returnAddr, args)
		calls++
	}
	return calls
}

func (b *Backend) process(pid uint32) backend.Process {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.processes {
		if p.PID == pid {
			return backend.Process{PID: pid, Name: p.Name}
		}
	}
	return backend.Process{PID: pid}
}

// Processes implements backend.Backend.
func (b *Backend) Processes(ctx context.Context) ([]backend.ProcessInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ProcessesCalls++
	return append([]backend.ProcessInfo(nil), b.processes...), nil
}

// Attach implements backend.Backend.
func (b *Backend) Attach(ctx context.Context, pid uint32) (backend.Process, error) {
	if b.AttachErr != nil {
		return backend.Process{}, b.AttachErr
	}
	p := b.process(pid)
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, info := range b.processes {
		if info.PID == pid {
			b.attached[pid] = true
			return p, nil
		}
	}
	return backend.Process{}, fmt.Errorf("pid %d: %w", pid, backend.ErrProcessNotFound)
}

// Detach implements backend.Backend.
func (b *Backend) Detach(p backend.Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.attached, p.PID)
	return nil
}

// Attached reports whether pid is attached.
func (b *Backend) Attached(pid uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attached[pid]
}

// Suspend implements backend.Backend.
func (b *Backend) Suspend(p backend.Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.SuspendCalls++
	b.suspended[p.PID]++
	return nil
}

// Resume implements backend.Backend.
func (b *Backend) Resume(p backend.Process) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ResumeCalls++
	if b.suspended[p.PID] == 0 {
		return fmt.Errorf("pid %d is not suspended", p.PID)
	}
	b.suspended[p.PID]--
	return nil
}

// Modules implements backend.Backend.
func (b *Backend) Modules(p backend.Process) ([]backend.Module, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]backend.Module(nil), b.modules[p.PID]...), nil
}

// ReadMemory implements backend.Backend.
func (b *Backend) ReadMemory(p backend.Process, addr uint64, length int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return nil, b.ReadErr
	}
	for _, r := range b.memory[p.PID] {
		if addr >= r.base && addr+uint64(length) <= r.base+uint64(len(r.data)) {
			off := addr - r.base
			return append([]byte(nil), r.data[off:off+uint64(length)]...), nil
		}
	}
	return nil, fmt.Errorf("read %d bytes at 0x%x: address not mapped", length, addr)
}

// ReadString implements backend.Backend.
func (b *Backend) ReadString(p backend.Process, addr uint64, wide bool) (string, error) {
	if b.PanicOnRead {
		panic("fakedbg: read fault")
	}
	if addr == 0 {
		return "", backend.ErrNoData
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ReadErr != nil {
		return "", b.ReadErr
	}

	for _, r := range b.memory[p.PID] {
		if addr < r.base || addr >= r.base+uint64(len(r.data)) {
			continue
		}
		data := r.data[addr-r.base:]
		if len(data) > MaxStringLength {
			data = data[:MaxStringLength]
		}
		if !wide {
			if i := strings.IndexByte(string(data), 0); i >= 0 {
				data = data[:i]
			}
			return string(data), nil
		}
		var units []uint16
		for i := 0; i+1 < len(data); i += 2 {
			u := binary.LittleEndian.Uint16(data[i:])
			if u == 0 {
				break
			}
			units = append(units, u)
		}
		return string(utf16.Decode(units)), nil
	}
	return "", fmt.Errorf("read string at 0x%x: address not mapped", addr)
}

// Registers implements backend.Backend.
func (b *Backend) Registers(p backend.Process, thread uint32) (backend.Registers, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.RegistersErr != nil {
		return nil, b.RegistersErr
	}
	regs, ok := b.registers[thread]
	if !ok {
		return nil, fmt.Errorf("thread %d: no context", thread)
	}
	return regs, nil
}

// SetBreakpoint implements backend.Backend.
func (b *Backend) SetBreakpoint(p backend.Process, addr uint64, fn backend.BreakpointFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.breakpoints = append(b.breakpoints, Breakpoint{PID: p.PID, Addr: addr, Fn: fn})
	return nil
}

// HookFunction implements backend.Backend.
func (b *Backend) HookFunction(p backend.Process, addr uint64, paramCount int, fn backend.HookFunc) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.hooks = append(b.hooks, Hook{PID: p.PID, Addr: addr, ParamCount: paramCount, Fn: fn})
	return nil
}

// ResolveExport implements backend.Backend.
func (b *Backend) ResolveExport(p backend.Process, mod backend.Module, name string) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	addr, ok := b.exports[exportKey(mod.Name, name)]
	if !ok {
		return 0, fmt.Errorf("%s!%s: %w", mod.Name, name, backend.ErrExportNotFound)
	}
	return addr, nil
}

// Run implements backend.Backend. Queued steps run in order; afterwards the
// target is reported as exited unless Block is set.
func (b *Backend) Run(ctx context.Context, h backend.EventHandler) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.mu.Unlock()
			break
		}
		step := b.queue[0]
		b.queue = b.queue[1:]
		b.mu.Unlock()
		step(h)
	}

	if b.Block {
		<-ctx.Done()
		return ctx.Err()
	}

	var pid uint32
	b.mu.Lock()
	for attachedPID := range b.attached {
		pid = attachedPID
	}
	b.mu.Unlock()
	h.OnProcessExit(backend.Event{Process: b.process(pid)}, 0)
	return nil
}

func exportKey(module, name string) string {
	return strings.ToLower(module) + "!" + name
}

var _ backend.Backend = (*Backend)(nil)
