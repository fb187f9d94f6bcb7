// Package image locates the sandboxed interpreter: the WASM binary that
// executes Python, and the filesystem root holding its standard library.
package image

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Default names inside an interpreter install.
const (
	BinaryName = "python.wasm"
	RootName   = "lib"
)

// Image describes a resolved interpreter install.
type Image struct {
	// Repository is where the install lives: a directory or a base URL.
	Repository string

	// Root is the path of the Python filesystem root within the repository.
	Root string
}

// Provider resolves the interpreter image and fetches its binary payload.
// Resolve and FetchBinary may be called concurrently.
type Provider interface {
	Resolve(ctx context.Context) (Image, error)
	FetchBinary(ctx context.Context) ([]byte, error)
}

// DirProvider serves an interpreter install from a local directory laid out
// as <dir>/python.wasm plus <dir>/lib.
type DirProvider struct {
	dir string
}

// NewDirProvider creates a provider over a local install directory.
func NewDirProvider(dir string) *DirProvider {
	return &DirProvider{dir: dir}
}

func (p *DirProvider) Resolve(ctx context.Context) (Image, error) {
	root := filepath.Join(p.dir, RootName)
	info, err := os.Stat(root)
	if err != nil {
		return Image{}, fmt.Errorf("resolve interpreter root: %w", err)
	}
	if !info.IsDir() {
		return Image{}, fmt.Errorf("interpreter root %s is not a directory", root)
	}
	return Image{Repository: p.dir, Root: root}, nil
}

func (p *DirProvider) FetchBinary(ctx context.Context) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(p.dir, BinaryName))
	if err != nil {
		return nil, fmt.Errorf("fetch interpreter binary: %w", err)
	}
	return data, nil
}

// DefaultCacheDir returns the directory used to cache downloaded
// interpreter assets.
func DefaultCacheDir() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return filepath.Join(dir, "pyhost")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".cache", "pyhost")
	}
	return filepath.Join(os.TempDir(), "pyhost-cache")
}
