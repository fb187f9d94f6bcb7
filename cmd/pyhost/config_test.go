package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caffeineduck/pyhost/image"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
interpreter: /opt/python-wasm
workspace: /home/dev/project
verbosity: 2
`), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/python-wasm", cfg.Interpreter)
	assert.Equal(t, "/home/dev/project", cfg.Workspace)
	assert.Equal(t, 2, cfg.Verbosity)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoadConfigMissingDefaultFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, fileConfig{}, cfg)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("interpreter: [unclosed"), 0o644))

	_, err := loadConfig(path)
	require.Error(t, err)
}

func TestBuildProvider(t *testing.T) {
	log := logr.Discard()

	p, err := buildProvider(fileConfig{Interpreter: "/opt/python-wasm"}, log)
	require.NoError(t, err)
	assert.IsType(t, &image.DirProvider{}, p)

	p, err = buildProvider(fileConfig{InterpreterURL: "https://example.com/python"}, log)
	require.NoError(t, err)
	assert.IsType(t, &image.HTTPProvider{}, p)

	// A local install wins over a URL when both are configured.
	p, err = buildProvider(fileConfig{Interpreter: "/opt/python-wasm", InterpreterURL: "https://example.com"}, log)
	require.NoError(t, err)
	assert.IsType(t, &image.DirProvider{}, p)

	_, err = buildProvider(fileConfig{}, log)
	require.Error(t, err)
}
