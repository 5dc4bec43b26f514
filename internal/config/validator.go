package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/coral-mesh/macrotap/internal/scanner"
)

// Validator is the interface for validating configuration.
type Validator interface {
	Validate() error
}

// ValidationError represents a single validation error.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiValidationError represents multiple validation errors.
type MultiValidationError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *MultiValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}

	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("validation failed with %d errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		builder.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return builder.String()
}

// LogLevels are the accepted logging.level values.
var LogLevels = []string{"trace", "debug", "info", "warn", "error"}

// LineRegisters are the 32-bit registers the script line pointer can be read
// from.
var LineRegisters = []string{"eax", "ebx", "ecx", "edx", "esi", "edi", "ebp", "esp"}

// Validate validates Config.
func (c *Config) Validate() error {
	var errors []ValidationError
	add := func(field, msg string) {
		errors = append(errors, ValidationError{Field: field, Message: msg})
	}

	if c.Output.Dir == "" {
		add("output.dir", "output directory is required")
	}

	if !slices.Contains(LogLevels, strings.ToLower(c.Logging.Level)) {
		add("logging.level", fmt.Sprintf("log level must be one of %s", strings.Join(LogLevels, ", ")))
	}

	if c.Target.Host == "" {
		add("target.host", "host executable is required")
	}
	if c.Target.PollInterval <= 0 {
		add("target.poll_interval", "poll interval must be positive")
	}
	if c.Target.MaxPollInterval < c.Target.PollInterval {
		add("target.max_poll_interval", "max poll interval must not be less than poll interval")
	}
	if c.Target.Modules.ScriptHost == "" {
		add("target.modules.script_host", "script host module is required")
	}
	if c.Target.Modules.StringDealloc == "" {
		add("target.modules.string_dealloc", "string deallocation module is required")
	}
	if c.Target.Modules.StringDeallocExport == "" {
		add("target.modules.string_dealloc_export", "string deallocation export is required")
	}

	if _, err := scanner.Parse(c.Hooks.Signature); err != nil {
		add("hooks.signature", err.Error())
	}
	if !slices.Contains(LineRegisters, strings.ToLower(c.Hooks.LineRegister)) {
		add("hooks.line_register", fmt.Sprintf("line register must be one of %s", strings.Join(LineRegisters, ", ")))
	}
	if c.Hooks.SeenStringsMax < 0 {
		add("hooks.seen_strings_max", "seen strings max must not be negative")
	}

	if len(errors) > 0 {
		return &MultiValidationError{Errors: errors}
	}
	return nil
}
