// Package mounts publishes host-to-worker filesystem mount mappings
// discovered while the worker boots.
//
// The registry is an open-ended event stream: zero or more mappings may
// arrive before or during execution, and no completion signal exists.
// Subscribers register before boot begins and treat the stream as live for
// the session's duration.
package mounts

import (
	"sync"
)

// PathMapping binds a mount-point name to the worker-side filesystem root
// backing it.
type PathMapping struct {
	MountPoint string `json:"mountPoint"`
	WorkerRoot string `json:"workerRoot"`
}

// Registry fans mapping deltas out to subscribers. Publish never blocks;
// traffic is low enough that per-subscriber buffering suffices.
type Registry struct {
	mu      sync.Mutex
	subs    map[int]*Subscription
	nextID  int
	history []PathMapping
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[int]*Subscription)}
}

// Subscription receives mapping deltas on C until cancelled.
type Subscription struct {
	C <-chan PathMapping

	id   int
	reg  *Registry
	sink chan PathMapping

	once sync.Once
}

const subscriptionBuffer = 64

// Subscribe registers a consumer. Mappings published before the
// subscription are replayed first, so a late subscriber still observes
// every delta ("delivered before the mount is used" is the only ordering
// guarantee).
func (r *Registry) Subscribe() *Subscription {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sink := make(chan PathMapping, subscriptionBuffer)
	s := &Subscription{C: sink, id: r.nextID, reg: r, sink: sink}
	r.subs[s.id] = s

	for _, m := range r.history {
		s.notify(m)
	}
	return s
}

// Cancel detaches the subscription and closes its channel. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.reg.mu.Lock()
		delete(s.reg.subs, s.id)
		s.reg.mu.Unlock()
		close(s.sink)
	})
}

func (s *Subscription) notify(m PathMapping) {
	// Best-effort: never block the publisher. The buffer is far larger
	// than any realistic number of mounts.
	select {
	case s.sink <- m:
	default:
	}
}

// Publish delivers a mapping delta to all current subscribers.
func (r *Registry) Publish(m PathMapping) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, m)
	for _, s := range r.subs {
		s.notify(m)
	}
}

// Mappings returns a snapshot of every mapping published so far.
func (r *Registry) Mappings() []PathMapping {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]PathMapping(nil), r.history...)
}
