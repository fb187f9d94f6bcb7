package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional YAML configuration, looked up at
// ~/.config/pyhost/config.yaml unless overridden with --config.
type fileConfig struct {
	// Interpreter is a local install directory holding python.wasm and lib/.
	Interpreter string `yaml:"interpreter"`

	// InterpreterURL is a remote content source serving the same layout.
	InterpreterURL string `yaml:"interpreterUrl"`

	// Workspace is the directory mounted at /workspace. Defaults to the
	// current directory.
	Workspace string `yaml:"workspace"`

	// Verbosity is the log verbosity; flags override it.
	Verbosity int `yaml:"verbosity"`
}

func defaultConfigPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "pyhost", "config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "pyhost", "config.yaml")
	}
	return ""
}

// loadConfig reads the configuration file. A missing file is not an error;
// a malformed one is.
func loadConfig(path string) (fileConfig, error) {
	var cfg fileConfig

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath()
		if path == "" {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}
