// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package memfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// Mounter binds and releases the in-memory filesystem backing a scratch
// directory. The production implementation is [TmpfsMounter]; tests inject
// fakes so the permission and lifecycle logic runs unprivileged.
type Mounter interface {
	// Mount binds an in-memory filesystem of the given size at path.
	// The path already exists as a directory when Mount is called.
	Mount(path string, size string) error

	// Unmount releases the filesystem mounted at path.
	Unmount(path string) error
}

// TmpfsMounter mounts tmpfs filesystems via the mount(2) and umount(2)
// syscalls. Requires CAP_SYS_ADMIN.
type TmpfsMounter struct{}

// Mount mounts a tmpfs of the given size (a mount option value such as
// "32M", passed through verbatim) at path.
func (TmpfsMounter) Mount(path string, size string) error {
	if err := unix.Mount("tmpfs", path, "tmpfs", 0, "size="+size); err != nil {
		return &MountError{Op: "mount", Path: path, Err: err}
	}
	return nil
}

// Unmount unmounts the tmpfs at path.
func (TmpfsMounter) Unmount(path string) error {
	if err := unix.Unmount(path, 0); err != nil {
		return &MountError{Op: "unmount", Path: path, Err: err}
	}
	return nil
}

// MountError reports a failed mount or unmount operation. These are fatal
// and propagated; the caller must not assume anything about the state of
// the mount point afterwards.
type MountError struct {
	Op   string // "mount" or "unmount"
	Path string
	Err  error
}

func (e *MountError) Error() string {
	return fmt.Sprintf("memfs: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *MountError) Unwrap() error {
	return e.Err
}

// Controller owns the memfs root directory and provides the idempotent
// mount/unmount primitives for named backing stores beneath it.
//
// Mount idempotence is defensive only: the pool always provisions a fresh
// name before calling Mount, and callers must not rely on an existing
// directory being returned as a reuse mechanism.
type Controller struct {
	root string
	size string
	fs   Mounter
}

// NewController creates a controller for backing stores under root, each
// mounted with the given tmpfs size option.
func NewController(root string, size string, fs Mounter) *Controller {
	return &Controller{root: root, size: size, fs: fs}
}

// Path returns the backing store path for name.
func (c *Controller) Path(name string) string {
	return filepath.Join(c.root, name)
}

// Root returns the memfs root directory.
func (c *Controller) Root() string {
	return c.root
}

// Mount creates and mounts the backing store for name, returning its path.
// If the directory already exists the mount is skipped and the existing
// path is returned.
//
// The directory is created fully open (0777, explicit chmod to defeat the
// umask) so the mount succeeds regardless of the invoking user, then
// tightened to 0711 after mounting: other users may traverse into the
// mount point but not list or modify it.
func (c *Controller) Mount(name string) (string, error) {
	path := c.Path(name)
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return path, nil
	}

	if err := os.MkdirAll(path, 0o777); err != nil {
		return "", fmt.Errorf("creating mount point %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o777); err != nil {
		return "", fmt.Errorf("opening mount point %s: %w", path, err)
	}
	if err := c.fs.Mount(path, c.size); err != nil {
		return "", err
	}
	if err := os.Chmod(path, 0o711); err != nil {
		return "", fmt.Errorf("tightening mount point %s: %w", path, err)
	}
	return path, nil
}

// Unmount unmounts and removes the backing store for name. Unmount syscall
// failures propagate, except EINVAL: umount(2) returns it for a path that
// is not a mount point, which here means a previous release already
// unmounted the tmpfs but could not finish removing the directory, so
// removal is all that remains. Removal errors are swallowed — partial
// failure is tolerated and surfaced only through the directory's continued
// existence, which the pool checks before releasing the name.
func (c *Controller) Unmount(name string) error {
	path := c.Path(name)
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return nil
	}
	if err := c.fs.Unmount(path); err != nil && !errors.Is(err, unix.EINVAL) {
		return err
	}
	_ = os.RemoveAll(path)
	return nil
}
