// Package artifact reconstructs interpreter scripts from the stream of source
// lines observed at the line-execution breakpoint.
//
// The interpreter emits a contiguous metadata preamble, every line of which
// starts with "Attribute", before the body of each unit of source it runs.
// Re-entering that preamble after body lines is the only boundary signal in
// the stream, so a fresh preamble starts a new script file.
package artifact

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/coral-mesh/macrotap/internal/safe"
)

// MetadataMarker prefixes every line of a script's metadata preamble.
const MetadataMarker = "Attribute"

// IsMetadata reports whether line belongs to a metadata preamble.
func IsMetadata(line string) bool {
	return strings.HasPrefix(line, MetadataMarker)
}

// Session is the rotation state of one debug session.
type Session struct {
	current string
	// inMetadata starts true so that a leading preamble does not rotate twice.
	inMetadata bool
}

// NewSession returns a session that has not observed any line yet.
func NewSession() *Session {
	return &Session{inMetadata: true}
}

// Path returns the current artifact path, empty before the first line.
func (s *Session) Path() string {
	return s.current
}

// InMetadata reports whether the last observed line was a metadata line.
func (s *Session) InMetadata() bool {
	return s.inMetadata
}

// Observe applies line to the session and returns the path it belongs to.
// next is called to obtain a new path whenever the session rotates.
func (s *Session) Observe(line string, next func() string) (path string, rotated bool) {
	if s.current == "" {
		s.current = next()
		rotated = true
	}

	if IsMetadata(line) {
		if !s.inMetadata {
			s.inMetadata = true
			s.current = next()
			rotated = true
		}
	} else {
		s.inMetadata = false
	}

	return s.current, rotated
}

// Classifier routes script lines to artifact files.
type Classifier struct {
	session *Session
	namer   *Namer
	logger  zerolog.Logger
	append  func(path, line string) error
}

// NewClassifier creates a Classifier writing through namer's directory.
func NewClassifier(session *Session, namer *Namer, logger zerolog.Logger) *Classifier {
	return &Classifier{
		session: session,
		namer:   namer,
		logger:  logger.With().Str("component", "classifier").Logger(),
		append:  safe.AppendLine,
	}
}

// Classify appends line to the artifact it belongs to, rotating to a new
// artifact when line opens a new metadata preamble. It returns the path
// written to.
func (c *Classifier) Classify(line string) (string, error) {
	path, rotated := c.session.Observe(line, func() string {
		return c.namer.Next(ScriptExt)
	})
	if rotated {
		c.logger.Info().Str("path", path).Msg("Created dumped macro file")
	}

	if err := c.append(path, line); err != nil {
		return path, err
	}
	return path, nil
}
