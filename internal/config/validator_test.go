package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"empty output dir", func(c *Config) { c.Output.Dir = "" }, "output.dir"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"empty host", func(c *Config) { c.Target.Host = "" }, "target.host"},
		{"zero poll interval", func(c *Config) { c.Target.PollInterval = 0 }, "target.poll_interval"},
		{"max below poll", func(c *Config) { c.Target.MaxPollInterval = time.Millisecond }, "target.max_poll_interval"},
		{"empty script host", func(c *Config) { c.Target.Modules.ScriptHost = "" }, "target.modules.script_host"},
		{"empty dealloc module", func(c *Config) { c.Target.Modules.StringDealloc = "" }, "target.modules.string_dealloc"},
		{"empty export", func(c *Config) { c.Target.Modules.StringDeallocExport = "" }, "target.modules.string_dealloc_export"},
		{"bad signature", func(c *Config) { c.Hooks.Signature = "8B ZZ" }, "hooks.signature"},
		{"empty signature", func(c *Config) { c.Hooks.Signature = "" }, "hooks.signature"},
		{"64-bit register", func(c *Config) { c.Hooks.LineRegister = "rdx" }, "hooks.line_register"},
		{"negative seen max", func(c *Config) { c.Hooks.SeenStringsMax = -1 }, "hooks.seen_strings_max"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)

			err := cfg.Validate()
			require.Error(t, err)

			var multi *MultiValidationError
			require.ErrorAs(t, err, &multi)
			require.Len(t, multi.Errors, 1)
			assert.Equal(t, tt.field, multi.Errors[0].Field)
		})
	}
}

func TestConfig_Validate_CaseInsensitive(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Hooks.LineRegister = "EDX"
	assert.NoError(t, cfg.Validate())
}

func TestMultiValidationError_Error(t *testing.T) {
	assert.Equal(t, "no validation errors", (&MultiValidationError{}).Error())

	one := &MultiValidationError{Errors: []ValidationError{{Field: "a", Message: "bad"}}}
	assert.Equal(t, "a: bad", one.Error())

	two := &MultiValidationError{Errors: []ValidationError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	assert.Equal(t, "validation failed with 2 errors:\n  1. a: bad\n  2. b: worse\n", two.Error())
}
