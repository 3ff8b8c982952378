// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for Scratchbox binaries.
//
// Configuration is loaded from a single YAML file specified by the
// SCRATCHBOX_CONFIG environment variable or a --config flag. There is no
// automatic discovery: an unset path falls back to compiled-in defaults,
// and nothing else overrides the file. This keeps the effective policy
// deterministic and auditable.
package config
