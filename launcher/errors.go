package launcher

import "fmt"

// BootError indicates the session failed before the worker was initialized:
// the interpreter image or binary payload could not be produced. Boot
// failures are fatal to the session and never retried internally.
type BootError struct {
	Err error
}

func (e *BootError) Error() string {
	return fmt.Sprintf("session boot failed: %v", e.Err)
}

func (e *BootError) Unwrap() error { return e.Err }
