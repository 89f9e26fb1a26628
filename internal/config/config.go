// Package config handles bytegraph run configuration files.
//
// A configuration is TOML or YAML, chosen by file extension. Missing keys
// keep their defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFormat is returned for configuration files that are neither
// TOML nor YAML.
var ErrUnknownFormat = errors.New("unknown config format")

// Config is the full run configuration.
type Config struct {
	Resolver  Resolver  `toml:"resolver" yaml:"resolver"`
	CallGraph CallGraph `toml:"callgraph" yaml:"callgraph"`
	Output    Output    `toml:"output" yaml:"output"`
	Cache     Cache     `toml:"cache" yaml:"cache"`
}

// Resolver bounds call-site resolution.
type Resolver struct {
	MaxSteps     int    `toml:"max-steps" yaml:"max-steps"`
	MaxChain     int    `toml:"max-chain" yaml:"max-chain"`
	ReceiverName string `toml:"receiver" yaml:"receiver"`
	RawFallback  bool   `toml:"raw-fallback" yaml:"raw-fallback"`
}

// CallGraph configures graph construction.
type CallGraph struct {
	UnknownPlaceholders bool `toml:"unknown-placeholders" yaml:"unknown-placeholders"`
	Workers             int  `toml:"workers" yaml:"workers"`
}

// Output selects the artifacts written.
type Output struct {
	Dir       string `toml:"dir" yaml:"dir"`
	Listings  bool   `toml:"listings" yaml:"listings"`
	DOT       bool   `toml:"dot" yaml:"dot"`
	SQLite    string `toml:"sqlite" yaml:"sqlite"`
	MinBlocks int    `toml:"min-blocks" yaml:"min-blocks"`
	MaxNodes  int    `toml:"max-nodes" yaml:"max-nodes"`

	// SignalHops is how far context spreads from functions with findings.
	// Negative disables signal output.
	SignalHops int `toml:"signal-hops" yaml:"signal-hops"`
}

// Cache configures the result cache. An empty Dir disables it.
type Cache struct {
	Dir string `toml:"dir" yaml:"dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Resolver: Resolver{
			MaxSteps:     512,
			MaxChain:     32,
			ReceiverName: "self",
		},
		CallGraph: CallGraph{
			Workers: 4,
		},
		Output: Output{
			Dir:        "out",
			Listings:   true,
			DOT:        true,
			MinBlocks:  1,
			MaxNodes:   2000,
			SignalHops: 2,
		},
	}
}

// Load reads path over the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: cannot read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse error in %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse error in %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("config: %s: %w", path, ErrUnknownFormat)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects values no run can use.
func (c Config) Validate() error {
	switch {
	case c.Resolver.MaxSteps < 0:
		return errors.New("resolver.max-steps must not be negative")
	case c.Resolver.MaxChain < 0:
		return errors.New("resolver.max-chain must not be negative")
	case c.CallGraph.Workers < 0:
		return errors.New("callgraph.workers must not be negative")
	case c.Output.MinBlocks < 0:
		return errors.New("output.min-blocks must not be negative")
	}
	return nil
}
