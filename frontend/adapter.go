package frontend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/google/go-dap"

	"github.com/caffeineduck/pyhost/launcher"
)

// DebugAdapter binds one IDE debug session, speaking the Debug Adapter
// Protocol over a byte stream, to a Launcher. Console and debugger output
// from the worker is forwarded to the IDE as output events; session end is
// reported with terminated and exited events.
//
// The adapter is deliberately thin: the debugger's own command traffic is
// an opaque byte stream to us, so breakpoint-level requests are answered
// with a capability-less initialize and the IDE drives pdb through the
// debug console.
type DebugAdapter struct {
	conn       io.ReadWriteCloser
	controller SessionController
	log        logr.Logger

	writeMu sync.Mutex
	seq     atomic.Int32

	mu       sync.Mutex
	launcher *launcher.Launcher
	devices  []*eventDevice
}

// NewDebugAdapter creates an adapter serving one DAP connection.
func NewDebugAdapter(conn io.ReadWriteCloser, controller SessionController, log logr.Logger) *DebugAdapter {
	return &DebugAdapter{conn: conn, controller: controller, log: log}
}

// Serve reads DAP requests until the connection closes or the IDE
// disconnects. It always terminates the session (if one started) before
// returning.
func (a *DebugAdapter) Serve(ctx context.Context) error {
	defer a.shutdown()

	reader := bufio.NewReader(a.conn)
	for {
		msg, err := dap.ReadProtocolMessage(reader)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		switch req := msg.(type) {
		case *dap.InitializeRequest:
			a.send(&dap.InitializeResponse{
				Response: a.response(req.Seq, "initialize"),
				Body:     dap.Capabilities{SupportsTerminateRequest: true},
			})
			a.send(&dap.InitializedEvent{Event: a.event("initialized")})

		case *dap.LaunchRequest:
			a.handleLaunch(ctx, req)

		case *dap.ConfigurationDoneRequest:
			a.send(&dap.ConfigurationDoneResponse{Response: a.response(req.Seq, "configurationDone")})

		case *dap.ThreadsRequest:
			a.send(&dap.ThreadsResponse{
				Response: a.response(req.Seq, "threads"),
				Body: dap.ThreadsResponseBody{
					Threads: []dap.Thread{{Id: 1, Name: "main"}},
				},
			})

		case *dap.TerminateRequest:
			a.terminateSession()
			a.send(&dap.TerminateResponse{Response: a.response(req.Seq, "terminate")})

		case *dap.DisconnectRequest:
			a.terminateSession()
			a.send(&dap.DisconnectResponse{Response: a.response(req.Seq, "disconnect")})
			return nil

		default:
			a.sendUnsupported(msg)
		}
	}
}

func (a *DebugAdapter) handleLaunch(ctx context.Context, req *dap.LaunchRequest) {
	var cfg Config
	if len(req.Arguments) > 0 {
		if err := json.Unmarshal(req.Arguments, &cfg); err != nil {
			a.sendError(req.Seq, "launch", fmt.Sprintf("bad launch arguments: %v", err))
			return
		}
	}
	cfg.Mode = "debug"

	resolved, err := a.controller.Resolve(cfg)
	if err != nil {
		a.sendError(req.Seq, "launch", err.Error())
		return
	}

	l, err := a.controller.Start(ctx, resolved, SessionIO{
		Console: a.outputDevice("stdout"),
		Debug:   a.outputDevice("console"),
	})
	if err != nil {
		a.sendError(req.Seq, "launch", err.Error())
		return
	}

	a.mu.Lock()
	a.launcher = l
	a.mu.Unlock()

	a.send(&dap.LaunchResponse{Response: a.response(req.Seq, "launch")})

	go func() {
		<-l.Done()
		outcome := l.Outcome()
		if outcome.Err != nil {
			a.sendOutput("stderr", outcome.Err.Error()+"\n")
		}
		a.send(&dap.ExitedEvent{
			Event: a.event("exited"),
			Body:  dap.ExitedEventBody{ExitCode: outcome.Code},
		})
		a.send(&dap.TerminatedEvent{Event: a.event("terminated")})
	}()
}

func (a *DebugAdapter) terminateSession() {
	a.mu.Lock()
	l := a.launcher
	a.mu.Unlock()
	if l != nil {
		l.Terminate()
	}
}

func (a *DebugAdapter) shutdown() {
	a.terminateSession()

	a.mu.Lock()
	devices := a.devices
	a.devices = nil
	a.mu.Unlock()
	for _, d := range devices {
		d.close()
	}

	a.conn.Close()
}

// outputDevice returns a character device whose worker output is forwarded
// to the IDE under the given DAP output category. The device supplies no
// input; pdb commands arrive through the opaque debug stream, not DAP.
func (a *DebugAdapter) outputDevice(category string) *eventDevice {
	d := &eventDevice{adapter: a, category: category, blocked: make(chan struct{})}
	a.mu.Lock()
	a.devices = append(a.devices, d)
	a.mu.Unlock()
	return d
}

func (a *DebugAdapter) sendOutput(category, output string) {
	a.send(&dap.OutputEvent{
		Event: a.event("output"),
		Body:  dap.OutputEventBody{Category: category, Output: output},
	})
}

func (a *DebugAdapter) sendUnsupported(msg dap.Message) {
	req, ok := msg.(dap.RequestMessage)
	if !ok {
		return
	}
	r := req.GetRequest()
	a.sendError(r.Seq, r.Command, "unsupported request")
}

func (a *DebugAdapter) sendError(requestSeq int, command, text string) {
	resp := a.response(requestSeq, command)
	resp.Success = false
	resp.Message = text
	a.send(&dap.ErrorResponse{
		Response: resp,
		Body: dap.ErrorResponseBody{
			Error: &dap.ErrorMessage{Format: text},
		},
	})
}

func (a *DebugAdapter) response(requestSeq int, command string) dap.Response {
	return dap.Response{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "response"},
		RequestSeq:      requestSeq,
		Success:         true,
		Command:         command,
	}
}

func (a *DebugAdapter) event(name string) dap.Event {
	return dap.Event{
		ProtocolMessage: dap.ProtocolMessage{Seq: a.nextSeq(), Type: "event"},
		Event:           name,
	}
}

func (a *DebugAdapter) nextSeq() int {
	return int(a.seq.Add(1))
}

func (a *DebugAdapter) send(msg dap.Message) {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	if err := dap.WriteProtocolMessage(a.conn, msg); err != nil {
		a.log.V(1).Info("DAP message dropped", "error", err)
	}
}

// eventDevice adapts worker output into DAP output events. Reads block
// until the adapter shuts down.
type eventDevice struct {
	adapter  *DebugAdapter
	category string
	blocked  chan struct{}
	once     sync.Once
}

func (d *eventDevice) Write(data []byte) (int, error) {
	d.adapter.sendOutput(d.category, string(data))
	return len(data), nil
}

func (d *eventDevice) Read(p []byte) (int, error) {
	<-d.blocked
	return 0, io.EOF
}

func (d *eventDevice) close() {
	d.once.Do(func() { close(d.blocked) })
}
