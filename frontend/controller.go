// Package frontend adapts host-facing session and debug-configuration
// events into launcher calls. It owns the validation gate (resolving a
// session started without parameters against the focused file), the
// descriptor factory that awaits the asset preload, and a Debug Adapter
// Protocol binding for IDE debug sessions.
package frontend

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/go-logr/logr"

	"github.com/caffeineduck/pyhost/bridge"
	"github.com/caffeineduck/pyhost/launcher"
)

// DefaultTerminator is the pdb ready prompt watched for on the debug
// endpoint when a configuration does not supply its own.
const DefaultTerminator = "(Pdb)"

// Config is a raw session configuration as supplied by the host.
type Config struct {
	Mode       string `json:"mode,omitempty"` // run, debug or repl; run by default
	Program    string `json:"program,omitempty"`
	Terminator string `json:"terminator,omitempty"`
}

// ResolvedConfig is a validated configuration ready to start.
type ResolvedConfig struct {
	Request launcher.RunRequest
}

// SessionIO names the host endpoints one session is wired to. Debug may be
// nil for run and repl sessions.
type SessionIO struct {
	Console bridge.CharacterDevice
	Debug   bridge.CharacterDevice
}

// SessionController resolves raw configurations and starts sessions. The
// real IDE binding implements this outside the core.
type SessionController interface {
	Resolve(cfg Config) (*ResolvedConfig, error)
	Start(ctx context.Context, rc *ResolvedConfig, io SessionIO) (*launcher.Launcher, error)
}

// Controller is the default SessionController: it defaults a parameterless
// session to the focused Python file and builds launchers through a
// descriptor factory.
type Controller struct {
	factory    *DescriptorFactory
	activeFile func() string
	log        logr.Logger
}

// NewController creates a controller. activeFile reports the currently
// focused file path, or "" when none; it may be nil.
func NewController(factory *DescriptorFactory, activeFile func() string, log logr.Logger) *Controller {
	if activeFile == nil {
		activeFile = func() string { return "" }
	}
	return &Controller{factory: factory, activeFile: activeFile, log: log}
}

// Resolve validates a configuration. A session started without an explicit
// program is defaulted to the focused file when that file is Python;
// otherwise resolution fails and the session is not started.
func (c *Controller) Resolve(cfg Config) (*ResolvedConfig, error) {
	mode := cfg.Mode
	if mode == "" {
		mode = "run"
	}

	program := cfg.Program
	if program == "" && mode != "repl" {
		focused := c.activeFile()
		if !isPythonFile(focused) {
			return nil, fmt.Errorf("no Python program to %s: provide one or focus a Python file", mode)
		}
		program = focused
	}

	switch mode {
	case "run":
		return &ResolvedConfig{Request: launcher.Run{Program: program}}, nil
	case "debug":
		terminator := cfg.Terminator
		if terminator == "" {
			terminator = DefaultTerminator
		}
		return &ResolvedConfig{Request: launcher.Debug{Program: program, Terminator: terminator}}, nil
	case "repl":
		return &ResolvedConfig{Request: launcher.Repl{}}, nil
	default:
		return nil, fmt.Errorf("unknown session mode %q", mode)
	}
}

// Start builds a launcher for the resolved configuration and starts it.
func (c *Controller) Start(ctx context.Context, rc *ResolvedConfig, io SessionIO) (*launcher.Launcher, error) {
	l, err := c.factory.NewLauncher(io.Console, io.Debug)
	if err != nil {
		return nil, err
	}
	if err := l.Start(ctx, rc.Request); err != nil {
		return nil, err
	}
	return l, nil
}

func isPythonFile(path string) bool {
	return path != "" && strings.EqualFold(filepath.Ext(path), ".py")
}
