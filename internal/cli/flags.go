package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/coral-mesh/macrotap/internal/config"
)

// inspectFlags are the command line overrides of the config file.
type inspectFlags struct {
	configPath string

	outputDir    string
	logLevel     string
	logFile      string
	host         string
	pollInterval time.Duration
}

func (f *inspectFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.outputDir, "output-dir", "", "Directory receiving .vbs and .bin artifacts")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	fs.StringVar(&f.logFile, "log-file", "", "Log file, empty string in config disables it")
	fs.StringVar(&f.host, "host", "", "Host executable to wait for")
	fs.DurationVar(&f.pollInterval, "poll-interval", 0, "Interval between process scans while waiting for the host")
}

// apply copies the flags set on the command line into cfg.
func (f *inspectFlags) apply(fs *pflag.FlagSet, cfg *config.Config) {
	if fs.Changed("output-dir") {
		cfg.Output.Dir = f.outputDir
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = f.logLevel
	}
	if fs.Changed("log-file") {
		cfg.Logging.File = f.logFile
	}
	if fs.Changed("host") {
		cfg.Target.Host = f.host
	}
	if fs.Changed("poll-interval") {
		cfg.Target.PollInterval = f.pollInterval
		if cfg.Target.MaxPollInterval < f.pollInterval {
			cfg.Target.MaxPollInterval = f.pollInterval
		}
	}
}

// load resolves the effective configuration: defaults, config file,
// environment, then flags.
func (f *inspectFlags) load(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := f.loader().Load()
	if err != nil {
		return nil, err
	}
	f.apply(fs, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// validatePIDArg accepts no argument or one decimal process id.
func validatePIDArg(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return nil
	}
	if len(args) > 1 {
		return fmt.Errorf("usage: %s", cmd.UseLine())
	}
	if _, err := parsePID(args[0]); err != nil {
		return fmt.Errorf("usage: %s: %w", cmd.UseLine(), err)
	}
	return nil
}

func parsePID(s string) (uint32, error) {
	pid, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid PID %q", s)
	}
	return uint32(pid), nil
}
