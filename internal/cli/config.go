package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/coral-mesh/macrotap/internal/cli/helpers"
	"github.com/coral-mesh/macrotap/internal/config"
	"github.com/coral-mesh/macrotap/internal/safe"
)

func newConfigCmd(flags *inspectFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage macrotap configuration",
		Long: `Manage macrotap configuration.

Configuration Priority:
  1. Command line flags (highest)
  2. MACROTAP_* environment variables
  3. Config file (~/.macrotap/config.yaml)
  4. Built-in defaults

Environment Variables:
  MACROTAP_CONFIG    Override the config file path`,
	}

	cmd.AddCommand(newConfigInitCmd(flags))
	cmd.AddCommand(newConfigViewCmd(flags))

	return cmd
}

func (f *inspectFlags) loader() *config.Loader {
	if f.configPath != "" {
		return config.NewLoaderWithPath(f.configPath)
	}
	return config.NewLoader()
}

func newConfigInitCmd(flags *inspectFlags) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			loader := flags.loader()
			if !force && safe.Exists(loader.Path()) {
				return fmt.Errorf("config file %s already exists, use --force to overwrite", loader.Path())
			}

			if err := loader.Save(config.DefaultConfig()); err != nil {
				return err
			}
			cmd.Printf("Wrote %s\n", loader.Path())
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing config file")

	return cmd
}

func newConfigViewCmd(flags *inspectFlags) *cobra.Command {
	var format string
	formats := []helpers.OutputFormat{helpers.FormatYAML, helpers.FormatJSON}

	cmd := &cobra.Command{
		Use:   "view",
		Short: "Show the effective configuration",
		Long: `Show the configuration macrotap runs with after the config file,
environment variables and flags are merged. The configuration is validated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := helpers.ValidateFormat(format, formats); err != nil {
				return err
			}
			cfg, err := flags.load(cmd.Flags())
			if err != nil {
				return err
			}
			return helpers.Print(helpers.OutputFormat(format), cfg, cmd.OutOrStdout())
		},
	}

	helpers.AddFormatFlag(cmd, &format, helpers.FormatYAML, formats)

	return cmd
}
