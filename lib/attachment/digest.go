// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package attachment

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest returns the hex BLAKE3-256 digest of the attachment's binary
// form. Used to identify collected outputs in run manifests and bundle
// indexes without shipping the content itself.
func (a *Attachment) Digest() string {
	sum := blake3.Sum256(a.Bytes())
	return hex.EncodeToString(sum[:])
}
