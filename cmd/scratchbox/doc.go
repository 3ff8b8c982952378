// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Scratchbox provisions tmpfs-backed scratch directories for untrusted
// code. It provides three subcommands: run (acquire a directory, stage
// input attachments, execute a command in its home, collect outputs),
// sweep (retry cleanup of leftover directories), and version.
package main
