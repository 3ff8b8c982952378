// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec provides the CBOR encoding used for Scratchbox's on-disk
// records, configured once so every caller produces identical bytes for
// identical data.
package codec
