package bridge

import (
	"bytes"
	"io"
	"sync"

	"github.com/go-logr/logr"
)

// Device is the worker-facing side of one registered endpoint. Stdin blocks
// until the endpoint supplies input; writes to Stdout are forwarded to the
// endpoint in FIFO order. Bytes from different devices never interleave on
// the same stream: each device owns its own pipe pair.
type Device struct {
	id       string
	endpoint CharacterDevice
	log      logr.Logger

	inReader *io.PipeReader
	inWriter *io.PipeWriter

	out *deviceOutput

	startOnce sync.Once
	closeOnce sync.Once
}

func newDevice(id string, endpoint CharacterDevice, log logr.Logger) *Device {
	inReader, inWriter := io.Pipe()
	return &Device{
		id:       id,
		endpoint: endpoint,
		log:      log,
		inReader: inReader,
		inWriter: inWriter,
		out:      &deviceOutput{endpoint: endpoint},
	}
}

// ID returns the device identifier used to name this endpoint in request
// parameters.
func (d *Device) ID() string { return d.id }

// Stdin is the blocking stream the worker reads input from.
func (d *Device) Stdin() io.Reader { return d.inReader }

// Stdout is the stream the worker writes output to.
func (d *Device) Stdout() io.Writer { return d.out }

// WatchFor arms a one-shot watcher that fires when the worker's output
// contains the given marker. Used to detect the debugger's ready prompt.
func (d *Device) WatchFor(marker string) <-chan struct{} {
	return d.out.watchFor(marker)
}

// start begins pumping endpoint input into the worker-facing pipe. The pump
// runs until the endpoint or the device is closed.
func (d *Device) start() {
	d.startOnce.Do(func() {
		go func() {
			_, err := io.Copy(d.inWriter, d.endpoint)
			d.inWriter.CloseWithError(err)
		}()
	})
}

func (d *Device) close() {
	d.closeOnce.Do(func() {
		d.inReader.Close()
		d.inWriter.Close()
	})
}

// deviceOutput forwards worker writes to the endpoint while scanning for an
// optional one-shot marker. The mutex spans both the forward and the scan,
// so endpoint order and scan order agree even with multiple writer
// goroutines, and the watcher only fires for bytes the endpoint has seen.
type deviceOutput struct {
	endpoint CharacterDevice

	mu      sync.Mutex
	marker  []byte
	tail    []byte
	watchCh chan struct{}
	fired   bool
}

func (o *deviceOutput) Write(data []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	n, err := o.endpoint.Write(data)
	o.scan(data)
	return n, err
}

func (o *deviceOutput) watchFor(marker string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.marker = []byte(marker)
	o.tail = nil
	o.fired = false
	o.watchCh = make(chan struct{})
	return o.watchCh
}

// scan looks for the marker across write boundaries by keeping the last
// len(marker)-1 bytes of the previous writes.
func (o *deviceOutput) scan(data []byte) {
	if o.fired || len(o.marker) == 0 {
		return
	}

	window := append(o.tail, data...)
	if bytes.Contains(window, o.marker) {
		o.fired = true
		close(o.watchCh)
		return
	}

	keep := len(o.marker) - 1
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	o.tail = append([]byte(nil), window...)
}
