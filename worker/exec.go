package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"

	"github.com/caffeineduck/pyhost/bridge"
)

type ioStreams struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// execute instantiates the compiled interpreter with the given streams and
// arguments and maps its termination to an exit code. I/O is not consumed
// until the bridge has signalled readiness.
func (w *Worker) execute(ctx context.Context, conn *bridge.Connection, streams ioStreams, args ...string) (int, error) {
	w.mu.Lock()
	rt := w.rt
	compiled := w.compiled
	rootDir := w.rootDir
	w.mu.Unlock()

	if rt == nil {
		return 0, fmt.Errorf("worker runtime is gone")
	}

	select {
	case <-conn.Ready():
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	fsConfig := wazero.NewFSConfig().
		WithReadOnlyDirMount(rootDir, GuestPythonRoot).
		WithDirMount(w.workspace, GuestWorkspace)

	moduleConfig := wazero.NewModuleConfig().
		WithStdin(streams.stdin).
		WithStdout(streams.stdout).
		WithStderr(streams.stderr).
		WithFSConfig(fsConfig).
		WithEnv("PYTHONHOME", GuestPythonRoot).
		WithEnv("PYTHONPATH", GuestPythonRoot+":"+GuestWorkspace).
		WithArgs(args...).
		WithName("")

	mod, err := rt.InstantiateModule(ctx, compiled, moduleConfig)
	if mod != nil {
		defer mod.Close(ctx)
	}
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok {
			return int(exitErr.ExitCode()), nil
		}
		return 0, fmt.Errorf("execution failed: %w", err)
	}
	return 0, nil
}
