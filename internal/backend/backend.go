// Package backend defines the debugging capability the inspector is built on.
//
// A Backend owns the host operating system's debug session: it attaches to
// processes, reports module loads, reads memory and thread registers, and
// installs execution breakpoints and function hooks. Callbacks registered
// through a Backend are delivered one at a time from the goroutine running
// Run, so handlers never execute concurrently with each other.
package backend

import (
	"context"
	"errors"
	"strings"
)

var (
	// ErrProcessNotFound is returned when no process matches a pid or name.
	ErrProcessNotFound = errors.New("process not found")

	// ErrModuleNotFound is returned when a module is not loaded in the target.
	ErrModuleNotFound = errors.New("module not found")

	// ErrExportNotFound is returned when a module does not export a symbol.
	ErrExportNotFound = errors.New("export not found")

	// ErrNoData is returned when a read targets a null pointer or yields nothing.
	// It is not a fault: the observation simply carried no payload.
	ErrNoData = errors.New("no data")

	// ErrUnsupportedPlatform is returned by backends built for another OS.
	ErrUnsupportedPlatform = errors.New("debug backend not supported on this platform")
)

// ProcessInfo is one entry of a process listing.
type ProcessInfo struct {
	PID  uint32
	Name string
	Exe  string
}

// Process identifies an attached target.
type Process struct {
	PID  uint32
	Name string
}

// Module is a loaded image inside a target's address space.
type Module struct {
	Name string
	Path string
	Base uint64
	// Size is the mapped image size when the backend knows it, zero otherwise.
	Size uint64
}

// MatchName reports whether the module's file name equals name, ignoring case.
func (m Module) MatchName(name string) bool {
	return strings.EqualFold(m.Name, name)
}

// Event is the context delivered with every callback.
type Event struct {
	Process Process
	Thread  uint32
	// Address is the instruction address that triggered the event, if any.
	Address uint64
}

// Registers is a snapshot of a thread's general purpose registers keyed by
// lower-case name ("eax", "edx", "rip", ...).
type Registers map[string]uint64

// Get returns the named register. Lookups are case-insensitive.
func (r Registers) Get(name string) (uint64, bool) {
	v, ok := r[strings.ToLower(name)]
	return v, ok
}

// BreakpointFunc is invoked when execution reaches a breakpoint address.
type BreakpointFunc func(ev Event)

// HookFunc is invoked on entry to a hooked function with its return address
// and the first paramCount arguments.
type HookFunc func(ev Event, returnAddr uint64, params []uint64)

// EventHandler receives lifecycle events from Run.
type EventHandler interface {
	// OnModuleLoad is called after a module has been mapped into the target.
	OnModuleLoad(ev Event, mod Module)
	// OnProcessExit is called once when the target terminates.
	OnProcessExit(ev Event, exitCode uint32)
}

// Backend is the host debug capability.
type Backend interface {
	// Processes lists running processes.
	Processes(ctx context.Context) ([]ProcessInfo, error)
	// Attach starts debugging an existing process.
	Attach(ctx context.Context, pid uint32) (Process, error)
	// Detach stops debugging, leaving the target running.
	Detach(p Process) error

	Suspend(p Process) error
	Resume(p Process) error

	// Modules lists the modules currently known to be loaded in p.
	Modules(p Process) ([]Module, error)
	// ReadMemory reads exactly length bytes starting at addr.
	ReadMemory(p Process, addr uint64, length int) ([]byte, error)
	// ReadString reads a null-terminated string at addr. Wide strings are
	// UTF-16LE. Reads stop at a backend-defined maximum length.
	ReadString(p Process, addr uint64, wide bool) (string, error)
	// Registers reads the register set of a thread of p.
	Registers(p Process, thread uint32) (Registers, error)

	// SetBreakpoint installs an execution breakpoint at addr.
	SetBreakpoint(p Process, addr uint64, fn BreakpointFunc) error
	// HookFunction installs fn on entry to the function at addr.
	HookFunction(p Process, addr uint64, paramCount int, fn HookFunc) error
	// ResolveExport returns the absolute address of an exported symbol.
	ResolveExport(p Process, mod Module, name string) (uint64, error)

	// Run delivers debug events to h until the target exits or ctx is done.
	Run(ctx context.Context, h EventHandler) error
}
