package locator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/macrotap/internal/backend"
	"github.com/coral-mesh/macrotap/internal/testutil/fakedbg"
)

func newTarget(t *testing.T) (*fakedbg.Backend, backend.Process) {
	t.Helper()
	fb := fakedbg.New()
	fb.AddProcess(100, "WINWORD.EXE", `C:\Office\WINWORD.EXE`)
	return fb, backend.Process{PID: 100, Name: "WINWORD.EXE"}
}

func TestSnapshot_UsesOnDiskSize(t *testing.T) {
	fb, proc := newTarget(t)

	image := make([]byte, 0x400)
	for i := range image {
		image[i] = byte(i)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "VBE7.DLL")
	require.NoError(t, os.WriteFile(path, make([]byte, 0x200), 0o600))

	fb.AddModule(proc.PID, backend.Module{Name: "VBE7.DLL", Path: path, Base: 0x6000_0000}, image)

	l := New(fb, zerolog.Nop())
	info, err := l.Snapshot(context.Background(), proc, "vbe7.dll")
	require.NoError(t, err)

	assert.Equal(t, "VBE7.DLL", info.Name)
	assert.Equal(t, uint64(0x6000_0000), info.Base)
	assert.Equal(t, uint64(0x200), info.Size)
	assert.Equal(t, image[:0x200], info.Bytes)
}

func TestSnapshot_FallsBackToMappedSize(t *testing.T) {
	fb, proc := newTarget(t)

	image := make([]byte, 0x80)
	fb.AddModule(proc.PID, backend.Module{Name: "VBE7.DLL", Path: `C:\missing\VBE7.DLL`, Base: 0x1000}, image)

	l := New(fb, zerolog.Nop())
	l.statFile = func(string) (int64, error) { return 0, os.ErrNotExist }

	info, err := l.Snapshot(context.Background(), proc, "VBE7.DLL")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x80), info.Size)
	assert.Len(t, info.Bytes, 0x80)
}

func TestSnapshot_FileLargerThanMappedImage(t *testing.T) {
	fb, proc := newTarget(t)

	image := make([]byte, 0x1000)
	image[0], image[1] = 'M', 'Z'
	fb.AddModule(proc.PID, backend.Module{Name: "VBE7.DLL", Path: `C:\Office\VBE7.DLL`, Base: 0x6e00_0000}, image)

	l := New(fb, zerolog.Nop())
	l.statFile = func(string) (int64, error) { return 0x3400, nil }

	info, err := l.Snapshot(context.Background(), proc, "VBE7.DLL")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), info.Size)
	assert.Equal(t, image, info.Bytes)
}

func TestSnapshot_ModuleNotFound(t *testing.T) {
	fb, proc := newTarget(t)

	l := New(fb, zerolog.Nop())
	_, err := l.Snapshot(context.Background(), proc, "VBE7.DLL")
	require.Error(t, err)
	assert.True(t, errors.Is(err, backend.ErrModuleNotFound))
}

func TestSnapshot_ReadFailure(t *testing.T) {
	fb, proc := newTarget(t)
	fb.AddModule(proc.PID, backend.Module{Name: "VBE7.DLL", Base: 0x1000}, make([]byte, 0x10))
	fb.ReadErr = errors.New("access denied")

	l := New(fb, zerolog.Nop())
	_, err := l.Snapshot(context.Background(), proc, "VBE7.DLL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestSnapshot_CanceledContext(t *testing.T) {
	fb, proc := newTarget(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := New(fb, zerolog.Nop())
	_, err := l.Snapshot(ctx, proc, "VBE7.DLL")
	assert.ErrorIs(t, err, context.Canceled)
}
