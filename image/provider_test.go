package image

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// minimal valid wasm module header, enough for byte-level fixtures.
var wasmHeader = []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

// writeInstall lays out a local interpreter install in dir.
func writeInstall(t *testing.T, dir string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, RootName, "python3.11"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, BinaryName), wasmHeader, 0o644))
}

func TestDirProviderResolve(t *testing.T) {
	dir := t.TempDir()
	writeInstall(t, dir)

	p := NewDirProvider(dir)
	img, err := p.Resolve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dir, img.Repository)
	assert.Equal(t, filepath.Join(dir, RootName), img.Root)
}

func TestDirProviderResolveMissingRoot(t *testing.T) {
	p := NewDirProvider(t.TempDir())
	_, err := p.Resolve(context.Background())
	require.Error(t, err)
}

func TestDirProviderFetchBinary(t *testing.T) {
	dir := t.TempDir()
	writeInstall(t, dir)

	p := NewDirProvider(dir)
	data, err := p.FetchBinary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, wasmHeader, data)
}

func TestDirProviderFetchBinaryMissing(t *testing.T) {
	p := NewDirProvider(t.TempDir())
	_, err := p.FetchBinary(context.Background())
	require.Error(t, err)
}
