package channel

// Request and notification methods exchanged between host and worker.
// Initialize is always the first request on a channel; exactly one of the
// three run methods follows, at most once.
const (
	MethodInitialize   = "initialize"
	MethodExecuteFile  = "executeFile"
	MethodDebugFile    = "debugFile"
	MethodRunRepl      = "runRepl"
	MethodPathMappings = "pathMappings"
)

// InitializeParams bootstraps the worker with the interpreter image and the
// filesystem root it should mount. Binary is the raw interpreter module;
// encoding/json carries it base64-encoded.
type InitializeParams struct {
	PythonRepository string `json:"pythonRepository"`
	PythonRoot       string `json:"pythonRoot"`
	Binary           []byte `json:"binary"`
}

// InitializeResult acknowledges the handshake.
type InitializeResult struct {
	OK bool `json:"ok"`
}

// ExecuteFileParams runs a single program to completion.
type ExecuteFileParams struct {
	SyncPort string `json:"syncPort"`
	File     string `json:"file"`
}

// DebugFileParams runs a program under the debugger. DebugDevice names the
// non-primary endpoint carrying debugger traffic; Terminator is the string
// the worker emits on that endpoint once the debugger is ready.
type DebugFileParams struct {
	SyncPort    string `json:"syncPort"`
	File        string `json:"file"`
	DebugDevice string `json:"debugDevice"`
	Terminator  string `json:"terminator"`
}

// RunReplParams starts an interactive interpreter on the primary endpoint.
type RunReplParams struct {
	SyncPort string `json:"syncPort"`
}

// RunResult is the worker's answer to any of the three run requests.
type RunResult struct {
	ExitCode int `json:"exitCode"`
}
