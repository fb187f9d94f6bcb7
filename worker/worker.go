// Package worker implements the sandboxed side of the session protocol: it
// receives the interpreter image over the channel, executes Python inside a
// wazero sandbox, and serves the three run requests with blocking I/O drawn
// from the sync bridge.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/caffeineduck/pyhost/bridge"
	"github.com/caffeineduck/pyhost/channel"
	"github.com/caffeineduck/pyhost/mounts"
)

// Guest paths the worker exposes to the interpreter.
const (
	GuestPythonRoot = "/python"
	GuestWorkspace  = "/workspace"
)

// Worker serves one channel until the channel closes. It enforces the
// protocol ordering: initialize first and exactly once, then at most one
// run request.
type Worker struct {
	log       logr.Logger
	ch        *channel.Channel
	workspace string

	mu          sync.Mutex
	initialized bool
	runIssued   bool
	rt          wazero.Runtime
	compiled    wazero.CompiledModule
	rootDir     string
	conn        *bridge.Connection
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used for worker diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(w *Worker) {
		w.log = log
	}
}

// WithWorkspace sets the host directory mounted at /workspace. Defaults to
// the process working directory.
func WithWorkspace(dir string) Option {
	return func(w *Worker) {
		w.workspace = dir
	}
}

// Spawn starts a worker in its own goroutine and returns the host side of
// the duplex transport connecting to it. The worker lives until its channel
// closes.
func Spawn(ctx context.Context, opts ...Option) io.ReadWriteCloser {
	host, remote := net.Pipe()
	w := &Worker{
		log:       logr.Discard(),
		workspace: ".",
	}
	for _, opt := range opts {
		opt(w)
	}

	w.ch = channel.New(remote, channel.WithLogger(w.log))
	w.ch.OnRequest(channel.MethodInitialize, w.handleInitialize)
	w.ch.OnRequest(channel.MethodExecuteFile, w.handleExecuteFile)
	w.ch.OnRequest(channel.MethodDebugFile, w.handleDebugFile)
	w.ch.OnRequest(channel.MethodRunRepl, w.handleRunRepl)
	w.ch.Listen()

	go func() {
		<-w.ch.Done()
		w.shutdown()
	}()

	return host
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	rt := w.rt
	conn := w.conn
	w.rt = nil
	w.conn = nil
	w.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	if rt != nil {
		rt.Close(context.Background())
	}
}

func (w *Worker) handleInitialize(ctx context.Context, params json.RawMessage) (any, error) {
	var p channel.InitializeParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &channel.ProtocolViolation{Detail: "undecodable initialize params: " + err.Error()}
	}

	w.mu.Lock()
	if w.initialized {
		w.mu.Unlock()
		return nil, &channel.ProtocolViolation{Detail: "duplicate initialize request"}
	}
	w.initialized = true
	w.mu.Unlock()

	rt := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, p.Binary)
	if err != nil {
		rt.Close(ctx)
		return nil, fmt.Errorf("compile interpreter: %w", err)
	}

	w.mu.Lock()
	w.rt = rt
	w.compiled = compiled
	w.rootDir = p.PythonRoot
	w.mu.Unlock()

	// Publish the mounts the interpreter will see. Delivery precedes any
	// use of the mounts by worker code: the run request is not served
	// until after the ack, and notifications share the transport.
	w.notifyMapping(mounts.PathMapping{MountPoint: GuestPythonRoot, WorkerRoot: p.PythonRoot})
	w.notifyMapping(mounts.PathMapping{MountPoint: GuestWorkspace, WorkerRoot: w.workspace})

	w.log.V(1).Info("worker initialized", "repository", p.PythonRepository)
	return channel.InitializeResult{OK: true}, nil
}

func (w *Worker) notifyMapping(m mounts.PathMapping) {
	params := struct {
		Mapping mounts.PathMapping `json:"mapping"`
	}{Mapping: m}
	if err := w.ch.Notify(channel.MethodPathMappings, params); err != nil {
		w.log.V(1).Info("path mapping notification dropped", "error", err)
	}
}

// claimRun validates protocol ordering for a run request and consumes the
// sync port.
func (w *Worker) claimRun(port string) (*bridge.Connection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		return nil, &channel.ProtocolViolation{Detail: "run request before initialize"}
	}
	if w.runIssued {
		return nil, &channel.ProtocolViolation{Detail: "second run request on channel"}
	}
	w.runIssued = true

	conn, err := bridge.Claim(bridge.Port(port))
	if err != nil {
		return nil, err
	}
	// The host must have wired a console before handing over the port. A
	// bare connection is a host bug, but the worker answers with an error
	// rather than trusting the port's wiring.
	if conn.Primary() == nil {
		conn.Close()
		return nil, fmt.Errorf("sync port %q has no primary device", port)
	}
	w.conn = conn
	return conn, nil
}

func (w *Worker) handleExecuteFile(ctx context.Context, params json.RawMessage) (any, error) {
	var p channel.ExecuteFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &channel.ProtocolViolation{Detail: "undecodable executeFile params: " + err.Error()}
	}

	conn, err := w.claimRun(p.SyncPort)
	if err != nil {
		return nil, err
	}

	console := conn.Primary()
	code, err := w.execute(ctx, conn, ioStreams{
		stdin:  console.Stdin(),
		stdout: console.Stdout(),
		stderr: console.Stdout(),
	}, "python", p.File)
	if err != nil {
		return nil, err
	}
	return channel.RunResult{ExitCode: code}, nil
}

func (w *Worker) handleDebugFile(ctx context.Context, params json.RawMessage) (any, error) {
	var p channel.DebugFileParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &channel.ProtocolViolation{Detail: "undecodable debugFile params: " + err.Error()}
	}

	conn, err := w.claimRun(p.SyncPort)
	if err != nil {
		return nil, err
	}

	debug := conn.Device(p.DebugDevice)
	if debug == nil {
		return nil, fmt.Errorf("unknown debug device %q", p.DebugDevice)
	}

	// Debugger traffic flows over the debug endpoint; program stderr stays
	// on the console. The debugger prints its ready prompt (the terminator)
	// on the debug stream, where the host's watcher detects it.
	console := conn.Primary()
	code, err := w.execute(ctx, conn, ioStreams{
		stdin:  debug.Stdin(),
		stdout: debug.Stdout(),
		stderr: console.Stdout(),
	}, "python", "-m", "pdb", p.File)
	if err != nil {
		return nil, err
	}
	return channel.RunResult{ExitCode: code}, nil
}

func (w *Worker) handleRunRepl(ctx context.Context, params json.RawMessage) (any, error) {
	var p channel.RunReplParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &channel.ProtocolViolation{Detail: "undecodable runRepl params: " + err.Error()}
	}

	conn, err := w.claimRun(p.SyncPort)
	if err != nil {
		return nil, err
	}

	console := conn.Primary()
	code, err := w.execute(ctx, conn, ioStreams{
		stdin:  console.Stdin(),
		stdout: console.Stdout(),
		stderr: console.Stdout(),
	}, "python", "-i")
	if err != nil {
		return nil, err
	}
	return channel.RunResult{ExitCode: code}, nil
}
