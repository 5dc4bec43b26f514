// Package locator captures the in-memory image of a module loaded in a target.
package locator

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/safe"
)

// ModuleInfo is an owned snapshot of a loaded module.
type ModuleInfo struct {
	Name  string
	Path  string
	Base  uint64
	Size  uint64
	Bytes []byte
}

// Locator resolves modules by name and snapshots their memory.
type Locator struct {
	backend backend.Backend
	logger  zerolog.Logger
	// statFile is swapped in tests.
	statFile func(path string) (int64, error)
}

// New creates a Locator reading through b.
func New(b backend.Backend, logger zerolog.Logger) *Locator {
	return &Locator{
		backend:  b,
		logger:   logger.With().Str("component", "locator").Logger(),
		statFile: fileSize,
	}
}

// Find returns the loaded module matching name, ignoring case.
func (l *Locator) Find(p backend.Process, name string) (backend.Module, error) {
	mods, err := l.backend.Modules(p)
	if err != nil {
		return backend.Module{}, fmt.Errorf("list modules of pid %d: %w", p.PID, err)
	}
	for _, m := range mods {
		if m.MatchName(name) {
			return m, nil
		}
	}
	return backend.Module{}, fmt.Errorf("%s in pid %d: %w", name, p.PID, backend.ErrModuleNotFound)
}

// Snapshot reads the image of module name from p. The read length is the
// module's on-disk file size bounded by the mapped size, or the mapped size
// alone when the file is not reachable. The caller must hold p suspended.
func (l *Locator) Snapshot(ctx context.Context, p backend.Process, name string) (*ModuleInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mod, err := l.Find(p, name)
	if err != nil {
		return nil, err
	}

	size, err := l.readLength(mod)
	if err != nil {
		return nil, err
	}

	l.logger.Debug().
		Str("module", mod.Name).
		Str("path", mod.Path).
		Uint64("base", mod.Base).
		Uint64("size", size).
		Msg("Reading module image")

	n, clamped := safe.Uint64ToInt(size)
	if clamped {
		return nil, fmt.Errorf("%s image size 0x%x too large", mod.Name, size)
	}

	buf, err := l.backend.ReadMemory(p, mod.Base, n)
	if err != nil {
		return nil, fmt.Errorf("read %s image at 0x%x: %w", mod.Name, mod.Base, err)
	}

	return &ModuleInfo{
		Name:  mod.Name,
		Path:  mod.Path,
		Base:  mod.Base,
		Size:  size,
		Bytes: buf,
	}, nil
}

func (l *Locator) readLength(mod backend.Module) (uint64, error) {
	if mod.Path != "" {
		n, err := l.statFile(mod.Path)
		if err == nil && n > 0 {
			// Overlays such as an Authenticode certificate sit past the
			// last section and are never mapped.
			if mod.Size > 0 && uint64(n) > mod.Size {
				return mod.Size, nil
			}
			return uint64(n), nil
		}
		l.logger.Debug().Err(err).Str("path", mod.Path).Msg("Module file not readable, using mapped size")
	}
	if mod.Size == 0 {
		return 0, fmt.Errorf("size of %s unknown", mod.Name)
	}
	return mod.Size, nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
