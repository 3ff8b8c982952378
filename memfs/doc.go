// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

// Package memfs provides isolated, size-bounded, uniquely-named scratch
// directories backed by tmpfs mounts.
//
// Each execution of untrusted code gets a private scratch directory under a
// fixed memfs root. A directory is acquired from a [Pool], which hands out a
// freshly mounted tmpfs with a locked-down root and a writable home subtree:
//
//	<root>/<name>/       mode 0555 while locked, 0777 during staging
//	<root>/<name>/home/  mode 0777, the only subtree the executed
//	                     process may write to
//
// The root directory's permission bits are the access-control mechanism, not
// an in-process lock: the guarantee must hold across separate processes
// sharing the mount, so the exact chmod transitions matter. [TempDir.WithWrite]
// brackets the only sanctioned relaxation of the root mode, used to stage
// input attachments before execution.
//
// Names are drawn from a mutex-guarded pool. The whole provisioning sequence
// (generate name, check uniqueness, mount, scaffold permissions, register)
// runs under one lock acquisition, so directory provisioning is globally
// serialized. A name is released back to the pool only after the backing
// directory is confirmed gone; otherwise it stays reserved, and is recorded
// in an on-disk ledger, so a later acquisition can never land on a
// half-torn-down mount. [Pool.Sweep] retries cleanup of such leftovers.
//
// [Controller] holds the mount/unmount primitives. Production pools mount
// real tmpfs filesystems via [TmpfsMounter]; tests inject a fake [Mounter].
package memfs
