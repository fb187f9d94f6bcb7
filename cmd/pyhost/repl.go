package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/frontend"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive Python REPL",
	Long: `Start an interactive interpreter session.

Features:
  - Command history (up/down arrows)
  - Line editing and history search (Ctrl+R)

Press Ctrl+D to end the session.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.pyhost_history)")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".pyhost_history")
	}

	s, err := newSession(cmd)
	if err != nil {
		return err
	}

	resolved, err := s.controller.Resolve(frontend.Config{Mode: "repl"})
	if err != nil {
		return err
	}

	// The interpreter reads from the pipe the readline loop feeds; its
	// output goes straight to the terminal.
	inputReader, inputWriter := io.Pipe()
	console := &stdioDevice{in: inputReader, out: os.Stdout}

	l, err := s.controller.Start(cmd.Context(), resolved, frontend.SessionIO{Console: console})
	if err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            ">>> ",
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initialize readline: %w", err)
	}
	defer rl.Close()

	go func() {
		defer inputWriter.Close()
		for {
			line, err := rl.Readline()
			if err != nil {
				if err == readline.ErrInterrupt {
					continue
				}
				return
			}
			if _, err := io.WriteString(inputWriter, line+"\n"); err != nil {
				return
			}
		}
	}()

	code, err := l.Wait(cmd.Context())
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}
