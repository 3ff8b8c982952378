// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/scratch-foundation/scratchbox/memfs"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Paths.Root != memfs.DefaultRoot {
		t.Errorf("root = %q, want %q", cfg.Paths.Root, memfs.DefaultRoot)
	}
}

func TestLoadWithoutEnvUsesDefaults(t *testing.T) {
	t.Setenv(EnvVar, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MemFS.Size != memfs.DefaultSize {
		t.Errorf("size = %q, want default %q", cfg.MemFS.Size, memfs.DefaultSize)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratchbox.yaml")
	content := `
paths:
  root: /tmp/scratch-test
memfs:
  size: 64M
  max_files: 5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.Paths.Root != "/tmp/scratch-test" {
		t.Errorf("root = %q, want /tmp/scratch-test", cfg.Paths.Root)
	}
	if cfg.MemFS.Size != "64M" {
		t.Errorf("size = %q, want 64M", cfg.MemFS.Size)
	}
	if cfg.MemFS.MaxFiles != 5 {
		t.Errorf("max_files = %d, want 5", cfg.MemFS.MaxFiles)
	}
	// Unset fields keep their defaults.
	if cfg.MemFS.MaxFileSize != memfs.DefaultMaxFileSize {
		t.Errorf("max_file_size = %d, want default", cfg.MemFS.MaxFileSize)
	}
}

func TestValidateSizeForms(t *testing.T) {
	// All forms mount(2) accepts for tmpfs size must validate, since the
	// value is passed through verbatim.
	for _, size := range []string{"32M", "512k", "1G", "1048576", "50%"} {
		cfg := Default()
		cfg.MemFS.Size = size
		if err := cfg.Validate(); err != nil {
			t.Errorf("size %q rejected: %v", size, err)
		}
	}
	for _, size := range []string{"", "M", "32MB", "fifty", "50%%"} {
		cfg := Default()
		cfg.MemFS.Size = size
		if err := cfg.Validate(); err == nil {
			t.Errorf("size %q accepted, want validation error", size)
		}
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFile of missing file succeeded, want error")
	}
}

func TestLoadFileRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratchbox.yaml")
	content := `
memfs:
  size: "not a size"
  max_files: -1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	_, err := LoadFile(path)
	if err == nil {
		t.Fatal("LoadFile succeeded, want validation error")
	}
	if !strings.Contains(err.Error(), "memfs.size") {
		t.Errorf("error %q does not mention memfs.size", err)
	}
	if !strings.Contains(err.Error(), "memfs.max_files") {
		t.Errorf("error %q does not mention memfs.max_files", err)
	}
}

func TestPoolOptions(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = "/somewhere"
	cfg.MemFS.MaxFiles = 7

	opts := cfg.PoolOptions()
	if opts.Root != "/somewhere" {
		t.Errorf("root = %q, want /somewhere", opts.Root)
	}
	if opts.MaxFiles != 7 {
		t.Errorf("max files = %d, want 7", opts.MaxFiles)
	}
}
