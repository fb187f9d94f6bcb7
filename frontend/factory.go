package frontend

import (
	"context"
	"io"
	"time"

	"github.com/go-logr/logr"

	"github.com/caffeineduck/pyhost/bridge"
	"github.com/caffeineduck/pyhost/image"
	"github.com/caffeineduck/pyhost/launcher"
	"github.com/caffeineduck/pyhost/worker"
)

// DescriptorFactory constructs session launchers bound to the host's I/O
// endpoints. A one-time environment preload, when configured, is handed to
// each launcher so boot can piggyback on warmed assets without ever being
// blocked by a preload failure.
type DescriptorFactory struct {
	provider  image.Provider
	preload   *image.Preload
	workspace string
	log       logr.Logger
}

// FactoryOption configures a DescriptorFactory.
type FactoryOption func(*DescriptorFactory)

// WithPreload attaches a running asset preload.
func WithPreload(p *image.Preload) FactoryOption {
	return func(f *DescriptorFactory) {
		f.preload = p
	}
}

// WithWorkspace sets the host directory workers mount at /workspace.
func WithWorkspace(dir string) FactoryOption {
	return func(f *DescriptorFactory) {
		f.workspace = dir
	}
}

// WithFactoryLogger sets the logger passed to launchers and workers.
func WithFactoryLogger(log logr.Logger) FactoryOption {
	return func(f *DescriptorFactory) {
		f.log = log
	}
}

// NewDescriptorFactory creates a factory producing launchers that spawn
// in-process wazero workers.
func NewDescriptorFactory(provider image.Provider, opts ...FactoryOption) *DescriptorFactory {
	f := &DescriptorFactory{
		provider:  provider,
		workspace: ".",
		log:       logr.Discard(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// StartPreload kicks off the best-effort asset warm-up and attaches it to
// launchers built afterwards. Failures are logged and swallowed.
func (f *DescriptorFactory) StartPreload(ctx context.Context) *image.Preload {
	f.preload = image.StartPreload(ctx, f.provider, f.log)
	return f.preload
}

// AwaitPreload waits for an attached preload, at most d. Used by session
// creation paths that prefer warmed assets.
func (f *DescriptorFactory) AwaitPreload(ctx context.Context, d time.Duration) {
	if f.preload == nil {
		return
	}
	select {
	case <-f.preload.Done():
	case <-time.After(d):
	case <-ctx.Done():
	}
}

// NewLauncher builds a launcher for one session bound to the given I/O
// endpoints. The debug device may be nil for run and repl sessions.
func (f *DescriptorFactory) NewLauncher(console, debug bridge.CharacterDevice) (*launcher.Launcher, error) {
	return launcher.New(launcher.Config{
		Provider: f.provider,
		Dial: func(ctx context.Context) (io.ReadWriteCloser, error) {
			return worker.Spawn(ctx, worker.WithLogger(f.log), worker.WithWorkspace(f.workspace)), nil
		},
		Console:     console,
		DebugDevice: debug,
		Preload:     f.preload,
		Logger:      f.log,
	})
}
