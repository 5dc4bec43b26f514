package config

import "time"

// SchemaVersion is the current config file version.
const SchemaVersion = "1"

// Config is the macrotap configuration, read from
// ~/.macrotap/config.yaml and overridden by MACROTAP_* variables and flags.
type Config struct {
	Version string        `yaml:"version"`
	Output  OutputConfig  `yaml:"output"`
	Logging LoggingConfig `yaml:"logging"`
	Target  TargetConfig  `yaml:"target"`
	Hooks   HooksConfig   `yaml:"hooks"`
}

// OutputConfig controls where artifacts are written.
type OutputConfig struct {
	Dir string `yaml:"dir" env:"MACROTAP_OUTPUT_DIR"`
}

// LoggingConfig controls the log stream.
type LoggingConfig struct {
	Level string `yaml:"level" env:"MACROTAP_LOG_LEVEL"`
	// File receives a copy of the log stream. Empty disables the file sink.
	File string `yaml:"file" env:"MACROTAP_LOG_FILE"`
}

// TargetConfig selects the host process and the modules to instrument.
type TargetConfig struct {
	Host            string        `yaml:"host" env:"MACROTAP_HOST"`
	PollInterval    time.Duration `yaml:"poll_interval" env:"MACROTAP_POLL_INTERVAL"`
	MaxPollInterval time.Duration `yaml:"max_poll_interval" env:"MACROTAP_MAX_POLL_INTERVAL"`
	Modules         ModulesConfig `yaml:"modules"`
}

// ModulesConfig names the modules instrumented on load.
type ModulesConfig struct {
	ScriptHost          string `yaml:"script_host" env:"MACROTAP_SCRIPT_HOST_MODULE"`
	StringDealloc       string `yaml:"string_dealloc" env:"MACROTAP_STRING_DEALLOC_MODULE"`
	StringDeallocExport string `yaml:"string_dealloc_export" env:"MACROTAP_STRING_DEALLOC_EXPORT"`
}

// HooksConfig tunes the breakpoint and hook handlers.
type HooksConfig struct {
	// Signature is the textual byte pattern of the line-execution routine,
	// e.g. "8B F0 81 FE ?? ??".
	Signature    string `yaml:"signature" env:"MACROTAP_SIGNATURE"`
	LineRegister string `yaml:"line_register" env:"MACROTAP_LINE_REGISTER"`
	// SeenStringsMax caps the freed-string dedup set. Zero is unbounded.
	SeenStringsMax int `yaml:"seen_strings_max" env:"MACROTAP_SEEN_STRINGS_MAX"`
}
