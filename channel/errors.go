package channel

import (
	"errors"
	"fmt"
)

// ErrChannelClosed is returned by operations on a channel that has been
// closed, either explicitly or because the transport failed.
var ErrChannelClosed = errors.New("channel closed")

// WorkerError is a failure the worker reported in response to a request.
// The reason is surfaced verbatim; the channel itself stays usable.
type WorkerError struct {
	Method string
	Reason string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("worker failed %s request: %s", e.Method, e.Reason)
}

// TransportError indicates that the underlying transport closed before a
// response arrived. All requests in flight at that moment fail with it.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	if e.Err == nil {
		return "channel transport closed"
	}
	return fmt.Sprintf("channel transport closed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolViolation indicates a malformed or out-of-order message. A
// violation is fatal to the channel: it is closed and every pending request
// fails with the violation as cause.
type ProtocolViolation struct {
	Detail string
}

func (e *ProtocolViolation) Error() string {
	return "protocol violation: " + e.Detail
}
