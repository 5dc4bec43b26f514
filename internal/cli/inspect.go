package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/config"
	"github.com/coral-mesh/macrotap/internal/errors"
	"github.com/coral-mesh/macrotap/internal/inspector"
	"github.com/coral-mesh/macrotap/internal/logging"
	"github.com/coral-mesh/macrotap/internal/retry"
	"github.com/coral-mesh/macrotap/internal/scanner"
	"github.com/coral-mesh/macrotap/pkg/version"
)

func runInspect(cmd *cobra.Command, flags *inspectFlags, args []string) error {
	var pid uint32
	if len(args) == 1 {
		var err error
		if pid, err = parsePID(args[0]); err != nil {
			return err
		}
	}

	cfg, err := flags.load(cmd.Flags())
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	logCfg := logging.DefaultConfig()
	logCfg.Output = cmd.ErrOrStderr()
	logCfg.Pretty = logging.IsTerminal(logCfg.Output)
	logCfg.Level = cfg.Logging.Level
	logCfg.File = logFilePath(cfg)
	logger, closer, err := logging.Open(logCfg)
	if err != nil {
		return err
	}
	defer errors.DeferClose(logger, closer, "failed to close log file")

	opts, err := inspectorOptions(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("output_dir", cfg.Output.Dir).
		Msg(version.String())

	// Zero is the discovery sentinel, so an explicit 0 is an attach failure.
	if len(args) == 1 && pid == 0 {
		err = fmt.Errorf("attach to pid 0: %w", backend.ErrProcessNotFound)
	} else {
		err = inspect(ctx, newBackend(logger), opts, pid, logger)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Inspection failed")
		return err
	}

	if logCfg.File != "" {
		logger.Info().Msgf("Inspection completed, log saved to %s", logCfg.File)
	} else {
		logger.Info().Msg("Inspection completed")
	}
	return nil
}

func inspect(ctx context.Context, dbg backend.Backend, opts inspector.Options, pid uint32, logger zerolog.Logger) error {
	in := inspector.New(dbg, opts, logger)
	if pid == 0 {
		logger.Info().Msgf("Try to attach to %s...", opts.HostExecutable)
	}

	if _, err := in.Attach(ctx, pid); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return in.Run(ctx)
}

// logFilePath places a relative log file inside the output directory.
func logFilePath(cfg *config.Config) string {
	file := strings.TrimSpace(cfg.Logging.File)
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(cfg.Output.Dir, file)
}

// inspectorOptions maps a validated config onto inspector options.
func inspectorOptions(cfg *config.Config) (inspector.Options, error) {
	sig, err := scanner.Parse(cfg.Hooks.Signature)
	if err != nil {
		return inspector.Options{}, fmt.Errorf("hooks.signature: %w", err)
	}

	opts := inspector.DefaultOptions()
	opts.HostExecutable = cfg.Target.Host
	opts.Modules = inspector.ModuleNames{
		ScriptHost:    cfg.Target.Modules.ScriptHost,
		StringDealloc: cfg.Target.Modules.StringDealloc,
	}
	opts.StringDeallocExport = cfg.Target.Modules.StringDeallocExport
	opts.Signature = sig
	opts.LineRegister = strings.ToLower(cfg.Hooks.LineRegister)
	opts.OutputDir = cfg.Output.Dir
	opts.SeenStringsMax = cfg.Hooks.SeenStringsMax
	opts.Poll = retry.Config{
		InitialBackoff: cfg.Target.PollInterval,
		MaxBackoff:     cfg.Target.MaxPollInterval,
	}
	return opts, nil
}
