// Package launcher orchestrates one interpreter session: booting the
// worker, selecting a run mode, and guaranteeing exactly-once completion
// with clean channel teardown.
//
// A Launcher moves through idle → booting → running → settled. Boot
// resolves the interpreter image, fetches the binary payload, and opens the
// message channel concurrently, joins the three, sends initialize, wires
// the sync I/O bridge, and finally issues the single mode-specific run
// request. The session settles when that request does, whatever the
// outcome; teardown always precedes the completion surfacing.
package launcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/caffeineduck/pyhost/bridge"
	"github.com/caffeineduck/pyhost/channel"
	"github.com/caffeineduck/pyhost/image"
	"github.com/caffeineduck/pyhost/mounts"
)

// State is the launcher's lifecycle phase.
type State int

const (
	StateIdle State = iota
	StateBooting
	StateRunning
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBooting:
		return "booting"
	case StateRunning:
		return "running"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// Outcome is the session's single completion value: an exit code, or the
// failure that ended the session.
type Outcome struct {
	Code int
	Err  error
}

// Config assembles a Launcher's collaborators.
type Config struct {
	// Provider resolves the interpreter image and binary payload.
	Provider image.Provider

	// Dial spawns a fresh worker and returns the host side of its duplex
	// transport.
	Dial func(ctx context.Context) (io.ReadWriteCloser, error)

	// Console is the primary character-device endpoint. Required.
	Console bridge.CharacterDevice

	// DebugDevice carries debugger traffic. Required for Debug requests,
	// ignored otherwise.
	DebugDevice bridge.CharacterDevice

	// Preload, if set, is awaited (bounded by PreloadWait) before the image
	// is resolved, so a warmed cache is used when available. Preload
	// failures never surface.
	Preload     *image.Preload
	PreloadWait time.Duration

	// Logger for session diagnostics. Defaults to logr.Discard.
	Logger logr.Logger
}

const defaultPreloadWait = 5 * time.Second

// Launcher owns at most one session. It must not be reused after Start.
type Launcher struct {
	cfg    Config
	log    logr.Logger
	mounts *mounts.Registry

	mu    sync.Mutex
	state State
	ch    *channel.Channel
	conn  *bridge.Connection

	terminated bool

	settleOnce sync.Once
	done       chan struct{}
	outcome    Outcome

	debugReady <-chan struct{}
}

// New validates the configuration and returns an idle launcher.
func New(cfg Config) (*Launcher, error) {
	if cfg.Provider == nil {
		return nil, errors.New("launcher: Provider is required")
	}
	if cfg.Dial == nil {
		return nil, errors.New("launcher: Dial is required")
	}
	if cfg.Console == nil {
		return nil, errors.New("launcher: Console is required")
	}
	log := cfg.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if cfg.PreloadWait <= 0 {
		cfg.PreloadWait = defaultPreloadWait
	}
	return &Launcher{
		cfg:    cfg,
		log:    log,
		mounts: mounts.NewRegistry(),
		done:   make(chan struct{}),
	}, nil
}

// Mounts exposes the path-mapping registry. Subscribe before Start to
// observe every mapping the worker publishes during boot.
func (l *Launcher) Mounts() *mounts.Registry {
	return l.mounts
}

// State reports the current lifecycle phase.
func (l *Launcher) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Done is closed once the session has settled.
func (l *Launcher) Done() <-chan struct{} {
	return l.done
}

// Outcome returns the completion value. Valid only after Done is closed.
func (l *Launcher) Outcome() Outcome {
	return l.outcome
}

// Wait blocks until the session settles or ctx is done, and returns the
// exit code or the session's failure.
func (l *Launcher) Wait(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-l.done:
		return l.outcome.Code, l.outcome.Err
	}
}

// DebugReady is closed when the debugger's terminator has been observed on
// the debug endpoint. Nil unless a Debug session has reached the running
// phase.
func (l *Launcher) DebugReady() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.debugReady
}

// Start begins the session. It validates the request synchronously and
// runs boot and execution in the background; the caller observes completion
// through Wait or Done. A launcher can be started at most once.
func (l *Launcher) Start(ctx context.Context, req RunRequest) error {
	switch r := req.(type) {
	case Run:
		if r.Program == "" {
			return errors.New("launcher: run request requires a program")
		}
	case Debug:
		if r.Program == "" {
			return errors.New("launcher: debug request requires a program")
		}
		if l.cfg.DebugDevice == nil {
			return errors.New("launcher: debug request requires a debug device")
		}
	case Repl:
	default:
		return errors.New("launcher: unknown run request")
	}

	l.mu.Lock()
	if l.state != StateIdle {
		l.mu.Unlock()
		return errors.New("launcher: already started")
	}
	l.state = StateBooting
	l.mu.Unlock()

	go l.run(ctx, req)
	return nil
}

// Terminate requests best-effort cancellation. It writes an interrupt
// notice to the console endpoint when one exists and unconditionally closes
// the message channel, failing any in-flight request. Safe to call in any
// state and any number of times; a no-op once settled.
func (l *Launcher) Terminate() {
	l.mu.Lock()
	if l.state == StateSettled || l.terminated {
		l.mu.Unlock()
		return
	}
	l.terminated = true
	ch := l.ch
	conn := l.conn
	l.mu.Unlock()

	l.log.V(1).Info("session terminate requested")
	if conn != nil {
		conn.InterruptNotice("\r\nSession terminated.\r\n")
	}
	if ch != nil {
		ch.Close()
	}
}

func (l *Launcher) run(ctx context.Context, req RunRequest) {
	ch, img, binary, err := l.boot(ctx)
	if err != nil {
		if ch != nil {
			ch.Close()
		}
		l.settle(Outcome{Err: &BootError{Err: err}})
		return
	}

	// Terminate may have fired while boot was in flight; its channel close
	// only sticks if the channel existed then, so re-check before sending
	// anything.
	l.mu.Lock()
	if l.terminated {
		l.mu.Unlock()
		ch.Close()
		l.settle(Outcome{Err: &channel.TransportError{}})
		return
	}
	l.ch = ch
	l.mu.Unlock()

	ch.OnNotification(channel.MethodPathMappings, func(params json.RawMessage) {
		var p struct {
			Mapping mounts.PathMapping `json:"mapping"`
		}
		if err := json.Unmarshal(params, &p); err != nil {
			l.log.V(1).Info("ignoring malformed path mapping", "error", err)
			return
		}
		l.mounts.Publish(p.Mapping)
	})
	ch.Listen()

	if _, err := ch.SendRequest(ctx, channel.MethodInitialize, channel.InitializeParams{
		PythonRepository: img.Repository,
		PythonRoot:       img.Root,
		Binary:           binary,
	}); err != nil {
		l.settle(Outcome{Err: err})
		return
	}

	conn, port := bridge.NewSyncConnection(bridge.WithLogger(l.log))
	conn.RegisterCharacterDevice(l.cfg.Console, true)

	var runMethod string
	var runParams any
	switch r := req.(type) {
	case Run:
		runMethod = channel.MethodExecuteFile
		runParams = channel.ExecuteFileParams{SyncPort: string(port), File: r.Program}
	case Debug:
		debug := conn.RegisterCharacterDevice(l.cfg.DebugDevice, false)
		ready := debug.WatchFor(r.Terminator)
		l.mu.Lock()
		l.debugReady = ready
		l.mu.Unlock()
		runMethod = channel.MethodDebugFile
		runParams = channel.DebugFileParams{
			SyncPort:    string(port),
			File:        r.Program,
			DebugDevice: debug.ID(),
			Terminator:  r.Terminator,
		}
	case Repl:
		runMethod = channel.MethodRunRepl
		runParams = channel.RunReplParams{SyncPort: string(port)}
	}

	conn.SignalReady()

	l.mu.Lock()
	l.conn = conn
	l.state = StateRunning
	l.mu.Unlock()
	l.log.V(1).Info("session running", "mode", req.mode())

	raw, err := ch.SendRequest(ctx, runMethod, runParams)
	if err != nil {
		l.settle(Outcome{Err: err})
		return
	}

	var result channel.RunResult
	if err := json.Unmarshal(raw, &result); err != nil {
		l.settle(Outcome{Err: &channel.ProtocolViolation{Detail: "undecodable run result: " + err.Error()}})
		return
	}
	l.settle(Outcome{Code: result.ExitCode})
}

// boot resolves the image, fetches the binary payload, and dials the worker
// concurrently; all three must succeed before initialize can be sent.
func (l *Launcher) boot(ctx context.Context) (*channel.Channel, image.Image, []byte, error) {
	l.awaitPreload(ctx)

	var (
		wg      sync.WaitGroup
		img     image.Image
		binary  []byte
		rwc     io.ReadWriteCloser
		imgErr  error
		binErr  error
		dialErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		img, imgErr = l.cfg.Provider.Resolve(ctx)
	}()
	go func() {
		defer wg.Done()
		binary, binErr = l.cfg.Provider.FetchBinary(ctx)
	}()
	go func() {
		defer wg.Done()
		rwc, dialErr = l.cfg.Dial(ctx)
	}()
	wg.Wait()

	var ch *channel.Channel
	if rwc != nil {
		ch = channel.New(rwc, channel.WithLogger(l.log))
	}

	for _, err := range []error{imgErr, binErr, dialErr} {
		if err != nil {
			return ch, image.Image{}, nil, err
		}
	}
	return ch, img, binary, nil
}

func (l *Launcher) awaitPreload(ctx context.Context) {
	if l.cfg.Preload == nil {
		return
	}
	select {
	case <-l.cfg.Preload.Done():
	case <-time.After(l.cfg.PreloadWait):
		l.log.V(1).Info("preload still pending, resolving lazily")
	case <-ctx.Done():
	}
}

// settle records the outcome exactly once. Channel and bridge teardown
// happen before completion is surfaced, so teardown is never a second
// failure visible to the caller.
func (l *Launcher) settle(o Outcome) {
	l.settleOnce.Do(func() {
		l.mu.Lock()
		ch := l.ch
		conn := l.conn
		l.state = StateSettled
		l.mu.Unlock()

		if ch != nil {
			ch.Close()
		}
		if conn != nil {
			conn.Close()
		}

		l.outcome = o
		close(l.done)

		if o.Err != nil {
			l.log.V(1).Info("session settled", "error", o.Err)
		} else {
			l.log.V(1).Info("session settled", "exitCode", o.Code)
		}
	})
}
