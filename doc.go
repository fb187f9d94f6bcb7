// Package pyhost launches and supervises a sandboxed WASM-hosted Python
// interpreter, wiring it to terminal-style I/O and, optionally, a debugger
// front end.
//
// # Overview
//
// A session is driven by a [launcher.Launcher]: it boots a worker over a
// typed message channel, hands it the interpreter image and filesystem
// root, wires blocking console (and debug) byte streams through the sync
// I/O bridge, issues exactly one run request (execute, debug, or REPL),
// and settles exactly once with an exit code or failure.
//
// # Basic Usage
//
//	factory := frontend.NewDescriptorFactory(image.NewDirProvider("/opt/python-wasm"))
//	l, _ := factory.NewLauncher(console, nil)
//	l.Start(ctx, launcher.Run{Program: "app.py"})
//	code, err := l.Wait(ctx)
//
// See the [channel], [bridge], [launcher], [worker], and [frontend]
// packages for detailed API documentation.
package pyhost
