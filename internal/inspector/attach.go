package inspector

import (
	"context"
	"errors"
	"fmt"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/backend/procs"
	"github.com/coral-mesh/macrotap/internal/retry"
)

// Attach attaches to pid, or with pid zero waits for the host executable to
// start and attaches to every instance found by the first successful scan.
func (i *Inspector) Attach(ctx context.Context, pid uint32) ([]backend.Process, error) {
	if pid != 0 {
		i.logger.Info().Uint32("pid", pid).Msg("Attaching to process")
		p, err := i.dbg.Attach(ctx, pid)
		if err != nil {
			return nil, fmt.Errorf("attach to pid %d: %w", pid, err)
		}
		i.targets[p.PID] = p
		return []backend.Process{p}, nil
	}

	found, err := i.Discover(ctx)
	if err != nil {
		return nil, err
	}

	var (
		attached []backend.Process
		errs     []error
	)
	for _, info := range found {
		i.logger.Info().
			Uint32("pid", info.PID).
			Str("exe", info.Exe).
			Msg("Attaching to process")
		p, err := i.dbg.Attach(ctx, info.PID)
		if err != nil {
			i.logger.Error().Err(err).Uint32("pid", info.PID).Msg("Failed to attach")
			errs = append(errs, fmt.Errorf("attach to pid %d: %w", info.PID, err))
			continue
		}
		if p.Name == "" {
			p.Name = info.Name
		}
		i.targets[p.PID] = p
		attached = append(attached, p)
	}

	if len(attached) == 0 {
		return nil, errors.Join(errs...)
	}
	return attached, nil
}

// Discover polls the process list until at least one instance of the host
// executable is running or ctx is done.
func (i *Inspector) Discover(ctx context.Context) ([]backend.ProcessInfo, error) {
	i.logger.Info().Str("host", i.opts.HostExecutable).Msg("Waiting for host process")

	var found []backend.ProcessInfo
	err := retry.Do(ctx, i.opts.Poll, func() error {
		infos, err := i.dbg.Processes(ctx)
		if err != nil {
			return err
		}
		found = procs.FindByName(infos, i.opts.HostExecutable)
		if len(found) == 0 {
			return fmt.Errorf("%s: %w", i.opts.HostExecutable, backend.ErrProcessNotFound)
		}
		return nil
	}, func(err error) bool {
		if !errors.Is(err, backend.ErrProcessNotFound) {
			i.logger.Warn().Err(err).Msg("Process scan failed")
		}
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("discover %s: %w", i.opts.HostExecutable, err)
	}
	return found, nil
}
