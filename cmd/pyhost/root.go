package main

import (
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/frontend"
	"github.com/caffeineduck/pyhost/image"
)

var rootCmd = &cobra.Command{
	Use:   "pyhost [file]",
	Short: "Run Python inside a WebAssembly sandbox",
	Long: `pyhost - Launch and supervise a sandboxed WASM Python interpreter.

Execute a file, debug it under pdb, or start an interactive REPL. The
interpreter image is fetched from a local install directory or a remote
content source and cached locally.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun, // default to run behavior
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path")
	rootCmd.PersistentFlags().String("interpreter", "", "Interpreter install directory")
	rootCmd.PersistentFlags().String("interpreter-url", "", "Interpreter content source URL")
	rootCmd.PersistentFlags().String("workspace", "", "Directory mounted at /workspace (default: current directory)")
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase log verbosity")
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
}

// session collects everything a command needs to start a launcher.
type session struct {
	factory    *frontend.DescriptorFactory
	controller *frontend.Controller
	log        logr.Logger
}

func newSession(cmd *cobra.Command) (*session, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	if dir, _ := cmd.Flags().GetString("interpreter"); dir != "" {
		cfg.Interpreter = dir
	}
	if url, _ := cmd.Flags().GetString("interpreter-url"); url != "" {
		cfg.InterpreterURL = url
	}
	if ws, _ := cmd.Flags().GetString("workspace"); ws != "" {
		cfg.Workspace = ws
	}
	if v, _ := cmd.Flags().GetCount("verbose"); v > 0 {
		cfg.Verbosity = v
	}

	log := newLogger(cfg.Verbosity)

	provider, err := buildProvider(cfg, log)
	if err != nil {
		return nil, err
	}

	workspace := cfg.Workspace
	if workspace == "" {
		workspace = "."
	}

	factory := frontend.NewDescriptorFactory(provider,
		frontend.WithWorkspace(workspace),
		frontend.WithFactoryLogger(log),
	)
	factory.StartPreload(cmd.Context())

	controller := frontend.NewController(factory, nil, log)
	return &session{factory: factory, controller: controller, log: log}, nil
}

func buildProvider(cfg fileConfig, log logr.Logger) (image.Provider, error) {
	switch {
	case cfg.Interpreter != "":
		return image.NewDirProvider(cfg.Interpreter), nil
	case cfg.InterpreterURL != "":
		return image.NewHTTPProvider(cfg.InterpreterURL, image.WithHTTPLogger(log)), nil
	default:
		return nil, fmt.Errorf("no interpreter configured: set --interpreter or --interpreter-url")
	}
}

func newLogger(verbosity int) logr.Logger {
	return funcr.New(func(prefix, args string) {
		if prefix != "" {
			fmt.Fprintf(os.Stderr, "%s: %s\n", prefix, args)
			return
		}
		fmt.Fprintln(os.Stderr, args)
	}, funcr.Options{Verbosity: verbosity})
}

// stdioDevice is a character device backed by a reader/writer pair.
type stdioDevice struct {
	in  io.Reader
	out io.Writer
}

func (d *stdioDevice) Read(p []byte) (int, error)  { return d.in.Read(p) }
func (d *stdioDevice) Write(p []byte) (int, error) { return d.out.Write(p) }
