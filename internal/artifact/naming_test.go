package artifact

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimestamp(t *testing.T) {
	tests := []struct {
		in   time.Time
		want string
	}{
		{time.Date(2026, 1, 9, 8, 5, 3, 0, time.UTC), "202619853"},
		{time.Date(2026, 10, 19, 14, 30, 59, 0, time.UTC), "20261019143059"},
		{time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), "20261231000"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, Timestamp(tt.in))
		})
	}
}

func TestNamer_SuffixesCollisions(t *testing.T) {
	dir := t.TempDir()
	n := NewNamer(dir, fixedClock(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)))

	assert.Equal(t, filepath.Join(dir, "202634567.vbs"), n.Next(ScriptExt))
	assert.Equal(t, filepath.Join(dir, "202634567-1.vbs"), n.Next(ScriptExt))
	assert.Equal(t, filepath.Join(dir, "202634567.bin"), n.Next(BinaryExt))
	assert.Equal(t, filepath.Join(dir, "202634567-2.vbs"), n.Next(ScriptExt))
}

func TestNamer_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "202634567.bin"), []byte("old"), 0o600))

	n := NewNamer(dir, fixedClock(time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)))
	assert.Equal(t, filepath.Join(dir, "202634567-1.bin"), n.Next(BinaryExt))
}

func TestNamer_NewSecondResetsSuffix(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	n := NewNamer(dir, func() time.Time { return now })

	assert.Equal(t, filepath.Join(dir, "202634567.vbs"), n.Next(ScriptExt))
	now = now.Add(time.Second)
	assert.Equal(t, filepath.Join(dir, "202634568.vbs"), n.Next(ScriptExt))
}
