package launcher

// RunRequest selects the session's run mode. Exactly one request is
// consumed per launcher.
type RunRequest interface {
	mode() string
}

// Run executes a single program file to completion.
type Run struct {
	Program string
}

// Debug executes a program under the debugger. Terminator is the marker the
// worker emits on the debug endpoint once the debugger is ready to accept
// commands.
type Debug struct {
	Program    string
	Terminator string
}

// Repl starts an interactive interpreter bound to the console endpoint.
type Repl struct{}

func (Run) mode() string   { return "run" }
func (Debug) mode() string { return "debug" }
func (Repl) mode() string  { return "repl" }
