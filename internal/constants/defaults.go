// Package constants defines shared configuration constants and defaults.
package constants

import "time"

// Discovery.
const (
	// DefaultPollInterval is the wait between process list scans while
	// waiting for the host to start.
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultMaxPollInterval caps the backoff between scans.
	DefaultMaxPollInterval = 5 * time.Second
)

// Artifacts.
const (
	DefaultOutputDir = "."

	// DefaultSeenStringsMax bounds the freed-string dedup set. Zero is unbounded.
	DefaultSeenStringsMax = 0
)

// Logging.
const (
	DefaultLogLevel = "info"
)
