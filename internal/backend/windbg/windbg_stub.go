//go:build !windows

package windbg

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/backend/procs"
)

// Backend lists processes on every platform; debugging needs Windows.
type Backend struct {
	lister *procs.Lister
}

// New creates a Backend.
func New(logger zerolog.Logger) *Backend {
	return &Backend{lister: procs.NewLister(logger)}
}

// Processes implements backend.Backend.
func (b *Backend) Processes(ctx context.Context) ([]backend.ProcessInfo, error) {
	return b.lister.Processes(ctx)
}

// Attach returns backend.ErrUnsupportedPlatform.
func (b *Backend) Attach(ctx context.Context, pid uint32) (backend.Process, error) {
	return backend.Process{}, backend.ErrUnsupportedPlatform
}

// Detach returns backend.ErrUnsupportedPlatform.
func (b *Backend) Detach(p backend.Process) error {
	return backend.ErrUnsupportedPlatform
}

// Suspend returns backend.ErrUnsupportedPlatform.
func (b *Backend) Suspend(p backend.Process) error {
	return backend.ErrUnsupportedPlatform
}

// Resume returns backend.ErrUnsupportedPlatform.
func (b *Backend) Resume(p backend.Process) error {
	return backend.ErrUnsupportedPlatform
}

// Modules returns backend.ErrUnsupportedPlatform.
func (b *Backend) Modules(p backend.Process) ([]backend.Module, error) {
	return nil, backend.ErrUnsupportedPlatform
}

// ReadMemory returns backend.ErrUnsupportedPlatform.
func (b *Backend) ReadMemory(p backend.Process, addr uint64, length int) ([]byte, error) {
	return nil, backend.ErrUnsupportedPlatform
}

// ReadString returns backend.ErrUnsupportedPlatform.
func (b *Backend) ReadString(p backend.Process, addr uint64, wide bool) (string, error) {
	return "", backend.ErrUnsupportedPlatform
}

// Registers returns backend.ErrUnsupportedPlatform.
func (b *Backend) Registers(p backend.Process, thread uint32) (backend.Registers, error) {
	return nil, backend.ErrUnsupportedPlatform
}

// SetBreakpoint returns backend.ErrUnsupportedPlatform.
func (b *Backend) SetBreakpoint(p backend.Process, addr uint64, fn backend.BreakpointFunc) error {
	return backend.ErrUnsupportedPlatform
}

// HookFunction returns backend.ErrUnsupportedPlatform.
func (b *Backend) HookFunction(p backend.Process, addr uint64, paramCount int, fn backend.HookFunc) error {
	return backend.ErrUnsupportedPlatform
}

// ResolveExport returns backend.ErrUnsupportedPlatform.
func (b *Backend) ResolveExport(p backend.Process, mod backend.Module, name string) (uint64, error) {
	return 0, backend.ErrUnsupportedPlatform
}

// Run returns backend.ErrUnsupportedPlatform.
func (b *Backend) Run(ctx context.Context, h backend.EventHandler) error {
	return backend.ErrUnsupportedPlatform
}

var _ backend.Backend = (*Backend)(nil)
