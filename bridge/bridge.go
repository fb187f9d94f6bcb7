// Package bridge adapts the host's asynchronous world to the blocking,
// ordered byte-stream I/O the worker's execution model expects.
//
// A Connection groups the character devices of one session behind a single
// transferable port handle. The host registers devices (console, and in
// debug mode a second endpoint for debugger traffic), calls SignalReady,
// and passes the port in the run request. The worker claims the port and
// reads/writes the devices as plain blocking streams.
package bridge

import (
	"io"
	"sync"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Port is an opaque handle to a Connection, transferable to the worker as a
// request parameter. A port is consumed by exactly one claim.
type Port string

// CharacterDevice is the host half of a terminal-like endpoint. Read
// supplies the bytes the worker will consume as input; Write receives the
// bytes the worker produced, in FIFO order.
type CharacterDevice interface {
	io.Reader
	io.Writer
}

// Connection is the synchronous transport for one session's I/O endpoints.
type Connection struct {
	port Port
	log  logr.Logger

	mu      sync.Mutex
	devices []*Device
	primary *Device
	ready   bool
	closed  bool

	readyCh chan struct{}
}

// NewSyncConnection establishes a synchronous transport and returns it
// together with the port handle to hand to the worker.
func NewSyncConnection(opts ...Option) (*Connection, Port) {
	c := &Connection{
		port:    Port(uuid.NewString()),
		log:     logr.Discard(),
		readyCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	registry.add(c)
	return c, c.port
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger used for bridge diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(c *Connection) {
		c.log = log
	}
}

// RegisterCharacterDevice binds an endpoint to the connection and returns
// its device. primary marks the main console; the debugger endpoint is
// registered non-primary. Registration after SignalReady is a programming
// error and panics.
func (c *Connection) RegisterCharacterDevice(endpoint CharacterDevice, primary bool) *Device {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		panic("bridge: RegisterCharacterDevice after SignalReady")
	}

	d := newDevice(uuid.NewString(), endpoint, c.log)
	c.devices = append(c.devices, d)
	if primary {
		if c.primary != nil {
			panic("bridge: second primary device registered")
		}
		c.primary = d
	}
	return d
}

// SignalReady tells the worker the I/O wiring is complete. It must be
// called exactly once, after every required device is registered and before
// the run request is issued; misuse panics.
func (c *Connection) SignalReady() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ready {
		panic("bridge: SignalReady called twice")
	}
	if c.primary == nil {
		panic("bridge: SignalReady with no primary device")
	}
	c.ready = true

	for _, d := range c.devices {
		d.start()
	}
	close(c.readyCh)
}

// Ready is closed once SignalReady has been called.
func (c *Connection) Ready() <-chan struct{} {
	return c.readyCh
}

// Primary returns the console device, or nil before registration.
func (c *Connection) Primary() *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.primary
}

// Device returns the device with the given identifier, or nil.
func (c *Connection) Device(id string) *Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.devices {
		if d.id == id {
			return d
		}
	}
	return nil
}

// DeviceCount reports how many endpoints have been registered.
func (c *Connection) DeviceCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices)
}

// InterruptNotice writes a terminal-facing message to the console endpoint,
// if one exists. Used by the launcher on external termination.
func (c *Connection) InterruptNotice(msg string) {
	c.mu.Lock()
	primary := c.primary
	c.mu.Unlock()

	if primary == nil {
		return
	}
	if _, err := primary.endpoint.Write([]byte(msg)); err != nil {
		c.log.V(1).Info("interrupt notice dropped", "error", err)
	}
}

// Close tears the connection down, unblocking worker reads and writers.
// It is idempotent.
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	devices := append([]*Device(nil), c.devices...)
	c.mu.Unlock()

	registry.remove(c.port)
	for _, d := range devices {
		d.close()
	}
	return nil
}
