package config

import (
	"github.com/coral-mesh/macrotap/internal/constants"
	"github.com/coral-mesh/macrotap/internal/scanner"
)

// DefaultConfig returns a config for Microsoft Word with VBA.
func DefaultConfig() *Config {
	return &Config{
		Version: SchemaVersion,
		Output: OutputConfig{
			Dir: constants.DefaultOutputDir,
		},
		Logging: LoggingConfig{
			Level: constants.DefaultLogLevel,
			File:  constants.DefaultLogFile,
		},
		Target: TargetConfig{
			Host:            constants.DefaultHostExecutable,
			PollInterval:    constants.DefaultPollInterval,
			MaxPollInterval: constants.DefaultMaxPollInterval,
			Modules: ModulesConfig{
				ScriptHost:          constants.DefaultScriptHostModule,
				StringDealloc:       constants.DefaultStringDeallocModule,
				StringDeallocExport: constants.DefaultStringDeallocExport,
			},
		},
		Hooks: HooksConfig{
			Signature:      scanner.DefaultScriptHostSignature,
			LineRegister:   constants.DefaultLineRegister,
			SeenStringsMax: constants.DefaultSeenStringsMax,
		},
	}
}
