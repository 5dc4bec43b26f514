package cli

import (
	"github.com/spf13/cobra"

	"github.com/coral-mesh/macrotap/internal/backend/procs"
	"github.com/coral-mesh/macrotap/internal/cli/helpers"
	"github.com/coral-mesh/macrotap/internal/logging"
)

// processRow is one line of 'macrotap ps'.
type processRow struct {
	PID  uint32 `header:"PID" json:"pid" yaml:"pid"`
	Name string `header:"NAME" json:"name" yaml:"name"`
	Exe  string `header:"PATH" json:"exe" yaml:"exe"`
}

var psFormats = []helpers.OutputFormat{helpers.FormatTable, helpers.FormatJSON, helpers.FormatYAML}

func newPsCmd(flags *inspectFlags) *cobra.Command {
	var (
		format string
		all    bool
	)

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List running instances of the host executable",
		Long: `List the running processes macrotap would attach to when started without a
PID. Use --all to list every visible process.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, psFormats); err != nil {
				return err
			}

			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}

			logCfg := logging.DefaultConfig()
			logCfg.Output = cmd.ErrOrStderr()
			logCfg.Level = cfg.Logging.Level
			lister := newLister(logging.NewWithComponent(logCfg, "cli"))

			infos, err := lister.Processes(cmd.Context())
			if err != nil {
				return err
			}
			if !all {
				infos = procs.FindByName(infos, cfg.Target.Host)
			}

			rows := make([]processRow, 0, len(infos))
			for _, info := range infos {
				rows = append(rows, processRow{PID: info.PID, Name: info.Name, Exe: info.Exe})
			}
			return helpers.Print(helpers.OutputFormat(format), rows, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "List every process, not only the host executable")
	helpers.AddFormatFlag(cmd, &format, helpers.FormatTable, psFormats)

	return cmd
}
