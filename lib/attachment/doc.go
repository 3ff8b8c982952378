// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package attachment models the files exchanged between a caller and a
// sandboxed execution's scratch directory: inputs staged before the run,
// outputs collected afterwards.
//
// An [Attachment] pairs a relative path with content held as either text
// or raw bytes. The transport form is a string-keyed dictionary carrying
// the path and base64-encoded content; [FromTransport] is the single entry
// point for untrusted wire data and rejects absolute paths, separator
// tricks in the first segment, and dot-only traversal segments before any
// content is decoded. Attachments loaded from a local file via [FromPath]
// skip path validation — the path was already resolved against a real
// filesystem object — but are subject to a byte-size limit at load time.
package attachment
