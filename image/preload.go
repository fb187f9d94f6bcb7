package image

import (
	"context"

	"github.com/go-logr/logr"
)

// Preload is a best-effort cache warm-up of the interpreter assets. Its
// failure is logged and swallowed: preload must never block or fail a
// session start. Callers that want to piggyback on a finished preload wait
// on Done with a bound of their choosing and fall back to resolving
// lazily.
type Preload struct {
	done chan struct{}
	err  error
}

// StartPreload kicks off the warm-up in the background and returns
// immediately.
func StartPreload(ctx context.Context, provider Provider, log logr.Logger) *Preload {
	p := &Preload{done: make(chan struct{})}

	go func() {
		defer close(p.done)

		if _, err := provider.Resolve(ctx); err != nil {
			log.V(1).Info("interpreter preload failed", "stage", "resolve", "error", err)
			p.err = err
			return
		}
		if _, err := provider.FetchBinary(ctx); err != nil {
			log.V(1).Info("interpreter preload failed", "stage", "binary", "error", err)
			p.err = err
			return
		}
		log.V(1).Info("interpreter preload complete")
	}()

	return p
}

// Done is closed when the preload has finished, successfully or not.
func (p *Preload) Done() <-chan struct{} {
	return p.done
}

// Err reports the preload outcome once Done is closed. It exists for
// observability only; callers never propagate it.
func (p *Preload) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
