// Package constants defines shared configuration constants.
package constants

var (
	ConfigFile = "config.yaml"

	DefaultDir = ".macrotap"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "MACROTAP_"

	// DefaultLogFile mirrors the log stream next to the dumped artifacts.
	DefaultLogFile = "macro_inspector.log"

	// DefaultHostExecutable is the document host attached to by discovery.
	DefaultHostExecutable = "WINWORD.EXE"

	// DefaultScriptHostModule hosts the interpreter's line-execution routine.
	DefaultScriptHostModule = "VBE7.dll"

	// DefaultStringDeallocModule exports the string deallocation API.
	DefaultStringDeallocModule = "OLEAUT32.dll"

	DefaultStringDeallocExport = "SysFreeString"

	// DefaultLineRegister holds the source line pointer at the breakpoint.
	DefaultLineRegister = "edx"
)
