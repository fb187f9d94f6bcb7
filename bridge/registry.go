package bridge

import (
	"fmt"
	"sync"
)

// registry maps live port handles to their connections. The worker claims a
// port exactly once; a second claim fails, which models the one-shot
// transfer of the handle in the run request.
var registry = &portRegistry{conns: make(map[Port]*Connection)}

type portRegistry struct {
	mu    sync.Mutex
	conns map[Port]*Connection
}

func (r *portRegistry) add(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c.port] = c
}

func (r *portRegistry) remove(p Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, p)
}

func (r *portRegistry) claim(p Port) (*Connection, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.conns[p]
	if !ok {
		return nil, fmt.Errorf("unknown or already claimed sync port %q", p)
	}
	delete(r.conns, p)
	return c, nil
}

// Claim consumes a port handle and returns its connection. Each port can be
// claimed at most once.
func Claim(p Port) (*Connection, error) {
	return registry.claim(p)
}
