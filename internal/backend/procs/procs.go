// Package procs enumerates running processes with gopsutil.
package procs

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/coral-mesh/macrotap/internal/backend"
)

// Lister lists processes of the local host.
type Lister struct {
	logger zerolog.Logger
	// list is swapped in tests.
	list func(ctx context.Context) ([]*process.Process, error)
}

// NewLister creates a Lister.
func NewLister(logger zerolog.Logger) *Lister {
	return &Lister{
		logger: logger.With().Str("component", "procs").Logger(),
		list:   process.ProcessesWithContext,
	}
}

// Processes returns every visible process ordered by pid. Processes whose
// name cannot be read, typically because they exited mid-scan or belong to
// a more privileged session, are skipped.
func (l *Lister) Processes(ctx context.Context) ([]backend.ProcessInfo, error) {
	all, err := l.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	infos := make([]backend.ProcessInfo, 0, len(all))
	for _, p := range all {
		if p.Pid <= 0 {
			continue
		}
		name, err := p.NameWithContext(ctx)
		if err != nil {
			l.logger.Debug().Err(err).Int32("pid", p.Pid).Msg("Skipping unreadable process")
			continue
		}
		// The executable path needs more access than the name; keep the
		// process when only the path is unavailable.
		exe, _ := p.ExeWithContext(ctx)
		infos = append(infos, backend.ProcessInfo{
			PID:  uint32(p.Pid),
			Name: name,
			Exe:  exe,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].PID < infos[j].PID })
	return infos, nil
}

// Matches reports whether info is an instance of the executable name. The
// process name and the base name of its image path are compared without
// regard to case.
func Matches(info backend.ProcessInfo, name string) bool {
	if strings.EqualFold(info.Name, name) {
		return true
	}
	if info.Exe == "" {
		return false
	}
	return strings.EqualFold(baseName(info.Exe), name)
}

// FindByName returns the processes in infos matching name, preserving order.
func FindByName(infos []backend.ProcessInfo, name string) []backend.ProcessInfo {
	var out []backend.ProcessInfo
	for _, info := range infos {
		if Matches(info, name) {
			out = append(out, info)
		}
	}
	return out
}

// baseName handles Windows separators on every platform.
func baseName(path string) string {
	return filepath.Base(strings.ReplaceAll(path, `\`, "/"))
}
