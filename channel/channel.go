// Package channel implements the typed request/response/notification
// transport between the host and the sandboxed interpreter worker.
//
// A Channel is symmetric: both ends exchange length-prefixed JSON frames
// over a duplex byte stream. The host sends requests and receives
// notifications; the worker registers request handlers and emits
// notifications. A malformed or unexpected message is fatal: the channel
// closes and every pending request fails.
package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/go-logr/logr"
)

type message struct {
	Kind   string          `json:"kind"`
	ID     uint64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

const (
	kindRequest      = "request"
	kindResponse     = "response"
	kindError        = "error"
	kindNotification = "notification"
)

// NotificationHandler receives an unsolicited message from the peer.
// Handlers must tolerate repeated delivery of equivalent notifications.
type NotificationHandler func(params json.RawMessage)

// RequestHandler serves one request method. A returned error becomes an
// error response on the wire; the channel itself stays open.
type RequestHandler func(ctx context.Context, params json.RawMessage) (any, error)

// Channel is a typed message transport over a duplex byte stream.
// It is safe for concurrent use. Close is idempotent.
type Channel struct {
	rw  io.ReadWriteCloser
	log logr.Logger

	writeMu sync.Mutex

	mu            sync.Mutex
	nextID        uint64
	pending       map[uint64]chan message
	notifications map[string][]NotificationHandler
	requests      map[string]RequestHandler
	abandoned     map[uint64]struct{}
	listening     bool
	closed        bool
	closeReason   error

	done chan struct{}
}

// Option configures a Channel.
type Option func(*Channel)

// WithLogger sets the logger used for channel diagnostics.
func WithLogger(log logr.Logger) Option {
	return func(c *Channel) {
		c.log = log
	}
}

// New wraps a duplex byte stream in a Channel. The channel does not read
// from the stream until Listen is called.
func New(rw io.ReadWriteCloser, opts ...Option) *Channel {
	c := &Channel{
		rw:            rw,
		log:           logr.Discard(),
		pending:       make(map[uint64]chan message),
		abandoned:     make(map[uint64]struct{}),
		notifications: make(map[string][]NotificationHandler),
		requests:      make(map[string]RequestHandler),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Listen starts pumping incoming messages. It must be called before any
// response or notification can be observed. Calling it more than once is a
// no-op.
func (c *Channel) Listen() {
	c.mu.Lock()
	if c.listening || c.closed {
		c.mu.Unlock()
		return
	}
	c.listening = true
	c.mu.Unlock()

	go c.readLoop()
}

// OnNotification registers a handler for a notification method. Multiple
// handlers for the same method are invoked in registration order.
func (c *Channel) OnNotification(method string, h NotificationHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications[method] = append(c.notifications[method], h)
}

// OnRequest registers the handler serving a request method. At most one
// handler per method.
func (c *Channel) OnRequest(method string, h RequestHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests[method] = h
}

// SendRequest issues a correlated request and blocks until the peer
// responds, the channel closes, or ctx is done. A peer-reported failure
// surfaces as *WorkerError; a channel closure as *TransportError or
// *ProtocolViolation depending on the close reason.
func (c *Channel) SendRequest(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		reason := c.closeReason
		c.mu.Unlock()
		return nil, closeError(reason)
	}
	c.nextID++
	id := c.nextID
	respCh := make(chan message, 1)
	c.pending[id] = respCh
	c.mu.Unlock()

	raw, err := json.Marshal(params)
	if err != nil {
		c.forget(id)
		return nil, fmt.Errorf("marshal %s params: %w", method, err)
	}

	if err := c.write(message{Kind: kindRequest, ID: id, Method: method, Params: raw}); err != nil {
		c.forget(id)
		return nil, &TransportError{Err: err}
	}

	select {
	case <-ctx.Done():
		// A response that raced the cancellation is already buffered;
		// prefer it over the cancellation error. Its id is no longer
		// pending, so there is nothing to forget.
		select {
		case resp := <-respCh:
			return unpackResponse(method, resp)
		default:
		}
		c.forget(id)
		return nil, ctx.Err()
	case <-c.done:
		// Same race with close: a settled response must not be discarded
		// as a transport failure.
		select {
		case resp := <-respCh:
			return unpackResponse(method, resp)
		default:
		}
		c.mu.Lock()
		reason := c.closeReason
		c.mu.Unlock()
		return nil, closeError(reason)
	case resp := <-respCh:
		return unpackResponse(method, resp)
	}
}

func unpackResponse(method string, resp message) (json.RawMessage, error) {
	if resp.Kind == kindError {
		return nil, &WorkerError{Method: method, Reason: resp.Error}
	}
	return resp.Result, nil
}

// Notify sends a notification to the peer. Delivery is best-effort in the
// sense that no response is awaited; a write failure closes the channel.
func (c *Channel) Notify(method string, params any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal %s params: %w", method, err)
	}
	if err := c.write(message{Kind: kindNotification, Method: method, Params: raw}); err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

// Close shuts the channel down and fails all pending requests with a
// TransportError. It is idempotent and safe to call from any goroutine.
func (c *Channel) Close() error {
	return c.closeWith(nil)
}

// Done is closed when the channel shuts down for any reason.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

func (c *Channel) closeWith(reason error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeReason = reason
	pending := c.pending
	c.pending = make(map[uint64]chan message)
	c.mu.Unlock()

	err := c.rw.Close()
	close(c.done)

	// Unblock senders that have not picked up a response. They observe the
	// close via c.done; dropping the channels here keeps the map bounded.
	for id := range pending {
		c.log.V(2).Info("failing pending request on close", "id", id)
	}
	return err
}

func closeError(reason error) error {
	if pv, ok := reason.(*ProtocolViolation); ok {
		return pv
	}
	return &TransportError{Err: reason}
}

// forget abandons a request whose caller gave up (context cancellation or a
// failed write). A late response for an abandoned id is discarded instead of
// being treated as a protocol violation.
func (c *Channel) forget(id uint64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.abandoned[id] = struct{}{}
	c.mu.Unlock()
}

func (c *Channel) write(m message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := writeFrame(c.rw, data); err != nil {
		c.closeWith(err)
		return err
	}
	return nil
}

func (c *Channel) readLoop() {
	for {
		data, err := readFrame(c.rw)
		if err != nil {
			c.closeWith(err)
			return
		}

		var m message
		if err := json.Unmarshal(data, &m); err != nil {
			c.fail(&ProtocolViolation{Detail: "undecodable frame: " + err.Error()})
			return
		}

		switch m.Kind {
		case kindResponse, kindError:
			if !c.dispatchResponse(m) {
				c.fail(&ProtocolViolation{Detail: fmt.Sprintf("response for unknown request id %d", m.ID)})
				return
			}
		case kindNotification:
			c.dispatchNotification(m)
		case kindRequest:
			if !c.dispatchRequest(m) {
				c.fail(&ProtocolViolation{Detail: "unexpected request method " + m.Method})
				return
			}
		default:
			c.fail(&ProtocolViolation{Detail: "unknown message kind " + m.Kind})
			return
		}
	}
}

// fail closes the channel because of a protocol violation.
func (c *Channel) fail(violation *ProtocolViolation) {
	c.log.V(1).Info("channel failed", "reason", violation.Detail)
	c.closeWith(violation)
}

func (c *Channel) dispatchResponse(m message) bool {
	c.mu.Lock()
	respCh, ok := c.pending[m.ID]
	if ok {
		delete(c.pending, m.ID)
	}
	_, wasAbandoned := c.abandoned[m.ID]
	if wasAbandoned {
		delete(c.abandoned, m.ID)
	}
	c.mu.Unlock()

	if !ok {
		return wasAbandoned
	}
	respCh <- m
	return true
}

func (c *Channel) dispatchNotification(m message) {
	c.mu.Lock()
	handlers := append([]NotificationHandler(nil), c.notifications[m.Method]...)
	c.mu.Unlock()

	// Delivery order equals transport arrival order: handlers run inline
	// on the read loop.
	for _, h := range handlers {
		h(m.Params)
	}
}

func (c *Channel) dispatchRequest(m message) bool {
	c.mu.Lock()
	h, ok := c.requests[m.Method]
	c.mu.Unlock()
	if !ok {
		return false
	}

	go func() {
		result, err := h(context.Background(), m.Params)
		if err != nil {
			if pv, isViolation := err.(*ProtocolViolation); isViolation {
				c.fail(pv)
				return
			}
			c.respondError(m.ID, err.Error())
			return
		}
		c.respond(m.ID, result)
	}()
	return true
}

func (c *Channel) respond(id uint64, result any) {
	raw, err := json.Marshal(result)
	if err != nil {
		c.respondError(id, "internal: failed to marshal result")
		return
	}
	c.write(message{Kind: kindResponse, ID: id, Result: raw})
}

func (c *Channel) respondError(id uint64, reason string) {
	c.write(message{Kind: kindError, ID: id, Error: reason})
}
