package main

import (
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/frontend"
	"github.com/caffeineduck/pyhost/launcher"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Execute a Python file",
	Long: `Execute a Python file to completion inside the sandbox.

The process exit code mirrors the program's exit code.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if len(args) == 0 {
		return cmd.Help()
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	resolved, err := s.controller.Resolve(frontend.Config{Mode: "run", Program: args[0]})
	if err != nil {
		return err
	}

	console := &stdioDevice{in: os.Stdin, out: os.Stdout}
	l, err := s.controller.Start(cmd.Context(), resolved, frontend.SessionIO{Console: console})
	if err != nil {
		return err
	}

	return waitForSession(cmd, l)
}

// waitForSession blocks until the session settles, terminating it on
// interrupt, and exits with the program's exit code.
func waitForSession(cmd *cobra.Command, l *launcher.Launcher) error {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	go func() {
		<-interrupts
		l.Terminate()
	}()

	code, err := l.Wait(cmd.Context())
	if err != nil {
		return err
	}
	if code != 0 {
		fmt.Fprintf(os.Stderr, "exit status %d\n", code)
		os.Exit(code)
	}
	return nil
}
