package artifact

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/coral-mesh/macrotap/internal/safe"
)

const (
	// ScriptExt is the extension of reconstructed script artifacts.
	ScriptExt = ".vbs"
	// BinaryExt is the extension of extracted executable images.
	BinaryExt = ".bin"
)

// Timestamp formats t at second resolution as the unpadded concatenation of
// calendar and clock fields, so 2026-01-09 08:05:03 becomes "202619853".
func Timestamp(t time.Time) string {
	return fmt.Sprintf("%d%d%d%d%d%d", t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
}

// Namer issues timestamp-derived artifact paths inside a directory.
//
// A name that was already issued by this Namer, or that already exists on
// disk, gets a "-N" suffix with the lowest free N, so two artifacts created
// within the same second never share a file.
type Namer struct {
	dir    string
	now    func() time.Time
	exists func(path string) bool
	issued map[string]struct{}
}

// NewNamer creates a Namer for dir. A nil clock uses time.Now.
func NewNamer(dir string, now func() time.Time) *Namer {
	if now == nil {
		now = time.Now
	}
	return &Namer{
		dir:    dir,
		now:    now,
		exists: safe.Exists,
		issued: make(map[string]struct{}),
	}
}

// Next returns a fresh path with extension ext.
func (n *Namer) Next(ext string) string {
	base := Timestamp(n.now())
	for i := 0; ; i++ {
		name := base
		if i > 0 {
			name = fmt.Sprintf("%s-%d", base, i)
		}
		path := filepath.Join(n.dir, name+ext)
		if _, taken := n.issued[path]; taken || n.exists(path) {
			continue
		}
		n.issued[path] = struct{}{}
		return path
	}
}
