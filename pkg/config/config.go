// Package config holds the configuration of a dataflow engine.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"sigs.k8s.io/yaml"
)

const (
	// DefaultMergeFactor is the default size ratio of adjacent trace batches.
	DefaultMergeFactor = 2
)

// Config is the engine configuration.
type Config struct {
	// Workers is the number of workers of a cluster.
	Workers int `json:"workers,omitempty"`
	// Trace configures the traces backing arrangements.
	Trace TraceConfig `json:"trace,omitempty"`
	// Iterate configures iterative scopes.
	Iterate IterateConfig `json:"iterate,omitempty"`
	// Log configures logging.
	Log LogConfig `json:"log,omitempty"`
}

// TraceConfig configures traces.
type TraceConfig struct {
	// MergeFactor is the size ratio below which adjacent batches are merged.
	MergeFactor int `json:"mergeFactor,omitempty"`
	// EagerCompaction compacts every batch as soon as the compaction frontier advances.
	EagerCompaction bool `json:"eagerCompaction,omitempty"`
}

// IterateConfig configures iterative scopes.
type IterateConfig struct {
	// MaxRounds caps the number of rounds of an iterative scope per outer step, 0 means no cap.
	MaxRounds int `json:"maxRounds,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Development enables the human-readable development logger.
	Development bool `json:"development,omitempty"`
	// Verbosity is the logr verbosity level.
	Verbosity int `json:"verbosity,omitempty"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Workers: 1,
		Trace:   TraceConfig{MergeFactor: DefaultMergeFactor},
	}
}

// Parse decodes a YAML or JSON configuration on top of the defaults and validates it.
func Parse(b []byte) (Config, error) {
	c := Default()
	if err := yaml.UnmarshalStrict(b, &c); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads the configuration from a file.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %q: %w", path, err)
	}
	return Parse(b)
}

// Validate checks the configuration, reporting every problem found.
func (c Config) Validate() error {
	var errs *multierror.Error
	if c.Workers < 1 {
		errs = multierror.Append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.Trace.MergeFactor < 1 {
		errs = multierror.Append(errs, fmt.Errorf("trace.mergeFactor must be positive, got %d", c.Trace.MergeFactor))
	}
	if c.Iterate.MaxRounds < 0 {
		errs = multierror.Append(errs, errors.New("iterate.maxRounds must not be negative"))
	}
	if c.Log.Verbosity < 0 {
		errs = multierror.Append(errs, errors.New("log.verbosity must not be negative"))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
