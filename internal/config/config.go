// Package config loads gavial run configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Coverage configures the drcov recorder.
type Coverage struct {
	Enabled bool `yaml:"enabled"`
	// Output is a filename template; %d expands to a timestamp, %s to the
	// traced binary's basename, %% to a literal percent sign.
	Output string `yaml:"output"`
}

// Config is the instrumentation run configuration.
type Config struct {
	// Script is the path to the JavaScript hook script. Empty disables
	// syscall hooking.
	Script string `yaml:"script"`
	// Arch selects the architecture profile for register projection and the
	// syscall name table.
	Arch     string   `yaml:"arch"`
	Coverage Coverage `yaml:"coverage"`
	Verbose  bool     `yaml:"verbose"`
}

// Default returns the baseline configuration.
func Default() Config {
	return Config{
		Arch: "arm64",
		Coverage: Coverage{
			Output: "coverage.drcov",
		},
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
