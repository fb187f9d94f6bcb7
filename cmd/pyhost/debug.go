package main

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/frontend"
)

var debugCmd = &cobra.Command{
	Use:   "debug [file]",
	Short: "Debug a Python file under pdb",
	Long: `Run a Python file under the debugger.

By default the debugger is driven interactively from the terminal. With
--listen the command instead serves a Debug Adapter Protocol session on the
given TCP address, for IDE front ends.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDebug,
}

func init() {
	debugCmd.Flags().String("terminator", frontend.DefaultTerminator, "Debugger ready marker")
	debugCmd.Flags().String("listen", "", "Serve a DAP session on this TCP address instead of the terminal")
	rootCmd.AddCommand(debugCmd)
}

func runDebug(cmd *cobra.Command, args []string) error {
	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	if addr, _ := cmd.Flags().GetString("listen"); addr != "" {
		return serveDAP(cmd, s, addr)
	}

	if len(args) == 0 {
		return cmd.Help()
	}
	terminator, _ := cmd.Flags().GetString("terminator")

	resolved, err := s.controller.Resolve(frontend.Config{
		Mode:       "debug",
		Program:    args[0],
		Terminator: terminator,
	})
	if err != nil {
		return err
	}

	// Debugger traffic on the terminal, program stderr alongside it.
	debugDevice := &stdioDevice{in: os.Stdin, out: os.Stdout}
	console := &stdioDevice{in: emptyReader{}, out: os.Stderr}

	l, err := s.controller.Start(cmd.Context(), resolved, frontend.SessionIO{
		Console: console,
		Debug:   debugDevice,
	})
	if err != nil {
		return err
	}

	return waitForSession(cmd, l)
}

// serveDAP accepts one IDE connection and serves a DAP session on it.
func serveDAP(cmd *cobra.Command, s *session, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	defer ln.Close()
	fmt.Fprintf(os.Stderr, "DAP listening on %s\n", ln.Addr())

	conn, err := ln.Accept()
	if err != nil {
		return err
	}

	adapter := frontend.NewDebugAdapter(conn, s.controller, s.log)
	return adapter.Serve(cmd.Context())
}

// emptyReader reports EOF immediately, for endpoints that supply no input.
type emptyReader struct{}

func (emptyReader) Read(p []byte) (int, error) { return 0, io.EOF }
