// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/scratch-foundation/scratchbox/memfs"
)

// EnvVar names the environment variable holding the config file path.
const EnvVar = "SCRATCHBOX_CONFIG"

// Config is the master configuration for Scratchbox.
type Config struct {
	// Paths configures directory locations.
	Paths PathsConfig `yaml:"paths"`

	// MemFS configures the scratch directory pool.
	MemFS MemFSConfig `yaml:"memfs"`
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Root is the directory under which scratch directories are mounted.
	Root string `yaml:"root"`
}

// MemFSConfig holds the fixed policy values for scratch directories.
type MemFSConfig struct {
	// Size is the tmpfs size per scratch directory, as a mount option
	// value ("32M"). Passed to mount(2) verbatim.
	Size string `yaml:"size"`

	// MaxFiles is the maximum number of output attachments collected
	// per run.
	MaxFiles int `yaml:"max_files"`

	// MaxFileSize is the maximum byte size of a single attachment.
	MaxFileSize int64 `yaml:"max_file_size"`
}

// Default returns the default configuration, matching the compiled-in
// memfs defaults.
func Default() *Config {
	return &Config{
		Paths: PathsConfig{
			Root: memfs.DefaultRoot,
		},
		MemFS: MemFSConfig{
			Size:        memfs.DefaultSize,
			MaxFiles:    memfs.DefaultMaxFiles,
			MaxFileSize: memfs.DefaultMaxFileSize,
		},
	}
}

// Load loads configuration from the file named by SCRATCHBOX_CONFIG, or
// returns the defaults when the variable is unset.
func Load() (*Config, error) {
	path := os.Getenv(EnvVar)
	if path == "" {
		return Default(), nil
	}
	return LoadFile(path)
}

// LoadFile loads configuration from a specific file path, merged over the
// defaults, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// sizePattern matches tmpfs size option values as mount(2) accepts them:
// a byte count with an optional binary-unit suffix ("32M", "512k", "1G")
// or a percentage of physical memory ("50%").
var sizePattern = regexp.MustCompile(`^[0-9]+([kKmMgG]|%)?$`)

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Paths.Root == "" {
		errs = append(errs, fmt.Errorf("paths.root is required"))
	}
	if !sizePattern.MatchString(c.MemFS.Size) {
		errs = append(errs, fmt.Errorf("memfs.size %q is not a valid tmpfs size", c.MemFS.Size))
	}
	if c.MemFS.MaxFiles <= 0 {
		errs = append(errs, fmt.Errorf("memfs.max_files must be positive"))
	}
	if c.MemFS.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("memfs.max_file_size must be positive"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// PoolOptions converts the configuration into pool options.
func (c *Config) PoolOptions() memfs.Options {
	return memfs.Options{
		Root:        c.Paths.Root,
		Size:        c.MemFS.Size,
		MaxFiles:    c.MemFS.MaxFiles,
		MaxFileSize: c.MemFS.MaxFileSize,
	}
}
