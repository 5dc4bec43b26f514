// Package cli implements the macrotap command tree.
package cli

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/backend/procs"
	"github.com/coral-mesh/macrotap/internal/backend/windbg"
	"github.com/coral-mesh/macrotap/pkg/version"
)

// Tests replace these.
var (
	newBackend = func(logger zerolog.Logger) backend.Backend {
		return windbg.New(logger)
	}
	newLister = func(logger zerolog.Logger) processLister {
		return procs.NewLister(logger)
	}
)

type processLister interface {
	Processes(ctx context.Context) ([]backend.ProcessInfo, error)
}

// NewRootCmd creates the macrotap command tree.
func NewRootCmd() *cobra.Command {
	var flags inspectFlags

	cmd := &cobra.Command{
		Use:   "macrotap [PID]",
		Short: "macrotap - dump the VBA macros a Word document runs",
		Long: `Attach to Microsoft Word and record the VBA source lines it executes,
together with any executable image that passes through a freed BSTR.

With no argument macrotap waits for WINWORD.EXE to start and attaches to every
instance it finds. With a PID it attaches to that process only.

Each macro is written to <timestamp>.vbs and each carved image to
<timestamp>.bin in the output directory.`,
		Args:          validatePIDArg,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspect(cmd, &flags, args)
		},
	}

	cmd.PersistentFlags().StringVar(&flags.configPath, "config", "", "Config file (default ~/.macrotap/config.yaml)")
	flags.register(cmd.PersistentFlags())

	cmd.AddCommand(newPsCmd(&flags))
	cmd.AddCommand(newConfigCmd(&flags))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("macrotap version %s\n", version.Version)
			cmd.Printf("Git commit: %s\n", version.GitCommit)
			cmd.Printf("Build date: %s\n", version.BuildDate)
			cmd.Printf("Go version: %s\n", version.GoVersion)
		},
	}
}

// Execute runs the root command
func Execute() error {
	return NewRootCmd().Execute()
}
