// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package memfs

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/scratch-foundation/scratchbox/lib/attachment"
)

// Defaults for [Options]. The size is a tmpfs mount option value and is
// passed through to mount(2) verbatim.
const (
	DefaultRoot        = "/run/scratchbox/memfs"
	DefaultSize        = "32M"
	DefaultMaxFiles    = 2
	DefaultMaxFileSize = 32 << 20
)

// nameAttempts bounds the unique-name generation loop. It bounds name
// collisions only, not mount syscall latency.
const nameAttempts = 10

// outputPrefix marks files under home/ that are collected as output
// attachments after execution.
const outputPrefix = "output"

// ErrNameExhausted is returned by [Pool.Acquire] when ten successive name
// candidates all collided with reserved names. Retrying is already built
// in; treat this as a provisioning failure.
var ErrNameExhausted = errors.New("memfs: failed to generate a unique scratch directory name in 10 attempts")

// Options configures a [Pool].
type Options struct {
	// Root is the directory under which backing stores are mounted.
	Root string

	// Size is the tmpfs size per scratch directory ("32M" style mount
	// option value).
	Size string

	// MaxFiles is the maximum number of output attachments collected per
	// scan.
	MaxFiles int

	// MaxFileSize is the maximum byte size of a single attachment.
	MaxFileSize int64

	// Mounter overrides the filesystem mount implementation. Defaults to
	// [TmpfsMounter].
	Mounter Mounter
}

func (o *Options) applyDefaults() {
	if o.Root == "" {
		o.Root = DefaultRoot
	}
	if o.Size == "" {
		o.Size = DefaultSize
	}
	if o.MaxFiles == 0 {
		o.MaxFiles = DefaultMaxFiles
	}
	if o.MaxFileSize == 0 {
		o.MaxFileSize = DefaultMaxFileSize
	}
	if o.Mounter == nil {
		o.Mounter = TmpfsMounter{}
	}
}

// Pool allocates uniquely-named scratch directories. It owns the set of
// names currently in use: a name is a member exactly while its mount is
// believed to exist, and membership is removed only after the backing
// directory is confirmed absent.
//
// All provisioning (name generation, uniqueness check, mount, permission
// scaffolding, registration) runs under one mutex acquisition, serializing
// directory creation globally. Unmount and removal syscalls run unlocked,
// so cleanups of different directories proceed in parallel.
type Pool struct {
	mu     sync.Mutex
	inUse  map[string]struct{}
	leaked map[string]struct{}

	ctrl   *Controller
	opts   Options
	logger *slog.Logger
	ledger *ledger

	// newName generates candidate directory names. Overridden in tests to
	// force collisions.
	newName func() string
}

// NewPool creates a pool rooted at opts.Root, creating the root directory
// if needed. Names recorded in the leaked-name ledger from previous runs
// are preloaded as reserved so they are never handed out again until
// [Pool.Sweep] reclaims them.
func NewPool(opts Options, logger *slog.Logger) (*Pool, error) {
	opts.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(opts.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating memfs root %s: %w", opts.Root, err)
	}

	ledger := newLedger(filepath.Join(opts.Root, ledgerFile))
	leaked, err := ledger.load()
	if err != nil {
		return nil, err
	}

	pool := &Pool{
		inUse:   make(map[string]struct{}, len(leaked)),
		leaked:  leaked,
		ctrl:    NewController(opts.Root, opts.Size, opts.Mounter),
		opts:    opts,
		logger:  logger,
		ledger:  ledger,
		newName: uuid.NewString,
	}
	for name := range leaked {
		pool.inUse[name] = struct{}{}
	}
	return pool, nil
}

// Reserved reports whether name is currently reserved in the pool.
func (p *Pool) Reserved(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.inUse[name]
	return ok
}

// Acquire provisions a new scratch directory: a fresh unique name, a
// mounted backing store with the root locked to read+execute, and a fully
// writable home/ subdirectory.
//
// The entire sequence holds the pool lock, so concurrent acquisitions are
// serialized and always observe a consistent name set. Returns
// [ErrNameExhausted] if no free name is found; no mount is performed in
// that case.
func (p *Pool) Acquire() (*TempDir, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < nameAttempts; i++ {
		name := p.newName()
		if _, taken := p.inUse[name]; taken {
			continue
		}

		root, err := p.ctrl.Mount(name)
		if err != nil {
			return nil, err
		}
		if err := p.scaffold(root); err != nil {
			// Best effort: don't leave an unregistered mount behind.
			_ = p.ctrl.Unmount(name)
			return nil, err
		}

		p.inUse[name] = struct{}{}
		return &TempDir{pool: p, name: name, root: root}, nil
	}
	return nil, ErrNameExhausted
}

// scaffold locks the directory root to read+execute and creates the
// writable home subtree.
func (p *Pool) scaffold(root string) error {
	if err := os.Chmod(root, 0o555); err != nil {
		return fmt.Errorf("locking %s: %w", root, err)
	}
	home := filepath.Join(root, "home")
	if err := os.Mkdir(home, 0o777); err != nil {
		return fmt.Errorf("creating %s: %w", home, err)
	}
	// Mkdir is subject to the umask; the home subtree must be writable by
	// the (arbitrary) uid the untrusted process runs as.
	if err := os.Chmod(home, 0o777); err != nil {
		return fmt.Errorf("opening %s: %w", home, err)
	}
	return nil
}

// TempDir is one mounted scratch directory. It is created only by
// [Pool.Acquire] and destroyed by [TempDir.Release]; a released TempDir is
// terminal.
//
// Methods on TempDir are not safe for concurrent use on the same instance:
// overlapping WithWrite brackets from two goroutines interleave permission
// bits unpredictably.
type TempDir struct {
	pool     *Pool
	name     string
	root     string
	released bool
}

// Name returns the directory's unique pool name.
func (d *TempDir) Name() string {
	return d.name
}

// Root returns the absolute path of the mounted directory.
func (d *TempDir) Root() string {
	return d.root
}

// Home returns the path of the writable home subtree.
func (d *TempDir) Home() string {
	return filepath.Join(d.root, "home")
}

func (d *TempDir) String() string {
	return fmt.Sprintf("<TempDir %s>", d.name)
}

// WithWrite temporarily opens the directory root for writing, runs fn, and
// restores the read+execute-only mode on every exit path. Input attachments
// are staged at the root inside this bracket before the directory is locked
// back down for execution.
func (d *TempDir) WithWrite(fn func() error) (err error) {
	if err := os.Chmod(d.root, 0o777); err != nil {
		return fmt.Errorf("elevating %s: %w", d.root, err)
	}
	defer func() {
		if restoreErr := os.Chmod(d.root, 0o555); restoreErr != nil && err == nil {
			err = fmt.Errorf("restoring %s: %w", d.root, restoreErr)
		}
	}()
	return fn()
}

// Attachments returns a one-shot sequence of the output attachments under
// home/: regular files whose name begins with "output", each loaded through
// the attachment codec with the pool's size limit, capped at the pool's
// MaxFiles. Iteration order is whatever the filesystem reports. A load or
// scan failure is yielded as the final element.
func (d *TempDir) Attachments() iter.Seq2[*attachment.Attachment, error] {
	home := d.Home()
	maxFiles := d.pool.opts.MaxFiles
	maxSize := d.pool.opts.MaxFileSize

	return func(yield func(*attachment.Attachment, error) bool) {
		entries, err := os.ReadDir(home)
		if err != nil {
			yield(nil, fmt.Errorf("scanning %s: %w", home, err))
			return
		}
		found := 0
		for _, entry := range entries {
			if found >= maxFiles {
				return
			}
			if !strings.HasPrefix(entry.Name(), outputPrefix) {
				continue
			}
			if !entry.Type().IsRegular() {
				continue
			}
			att, err := attachment.FromPath(filepath.Join(home, entry.Name()), maxSize)
			if err != nil {
				yield(nil, err)
				return
			}
			found++
			if !yield(att, nil) {
				return
			}
		}
	}
}

// Release unmounts the backing store and, if the directory is confirmed
// gone, frees the name back to the pool. If removal left residue the name
// stays reserved (and is recorded in the ledger) so no future acquisition
// can reuse it; that is logged, not raised. Releasing an already-released
// directory is a no-op.
func (d *TempDir) Release() error {
	if d.released {
		return nil
	}
	if err := d.pool.ctrl.Unmount(d.name); err != nil {
		return err
	}
	d.released = true

	if _, err := os.Stat(d.root); os.IsNotExist(err) {
		d.pool.mu.Lock()
		delete(d.pool.inUse, d.name)
		d.pool.mu.Unlock()
		return nil
	}

	d.pool.logger.Warn("scratch directory not fully removed, keeping its name reserved",
		"name", d.name,
		"path", d.root,
	)
	d.pool.rememberLeaked(d.name)
	return nil
}

// rememberLeaked marks name as leaked and persists it to the ledger. The
// name stays in the in-use set regardless; ledger write failures only cost
// cross-restart protection and are logged, not raised.
//
// The lock is held across the save so concurrent writers cannot reorder: a
// snapshot taken later always reaches disk later, and the on-disk set never
// drops a name another writer just added.
func (p *Pool) rememberLeaked(name string) {
	p.mu.Lock()
	p.leaked[name] = struct{}{}
	err := p.ledger.save(ledgerSnapshot(p.leaked))
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("failed to persist leaked-name ledger", "error", err)
	}
}

// Sweep retries cleanup of leftover scratch directories: entries under the
// memfs root that are not owned by a live acquisition, including leaked
// names from this or previous runs. Reclaimed names become available again;
// names whose directories still resist removal stay reserved. Returns the
// reclaimed and retained names.
func (p *Pool) Sweep() (reclaimed, retained []string, err error) {
	entries, err := os.ReadDir(p.ctrl.Root())
	if err != nil {
		return nil, nil, fmt.Errorf("scanning memfs root: %w", err)
	}

	candidates := make([]string, 0, len(entries))
	p.mu.Lock()
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		name := entry.Name()
		_, active := p.inUse[name]
		_, leaked := p.leaked[name]
		if active && !leaked {
			continue // owned by a live TempDir
		}
		candidates = append(candidates, name)
	}
	// Leaked names whose directory is already gone need no unmount, just
	// deregistration.
	for name := range p.leaked {
		if _, statErr := os.Stat(p.ctrl.Path(name)); os.IsNotExist(statErr) {
			candidates = append(candidates, name)
		}
	}
	p.mu.Unlock()

	for _, name := range candidates {
		if unmountErr := p.ctrl.Unmount(name); unmountErr != nil {
			p.logger.Warn("sweep: unmount failed", "name", name, "error", unmountErr)
			retained = append(retained, name)
			continue
		}
		if _, statErr := os.Stat(p.ctrl.Path(name)); statErr == nil {
			retained = append(retained, name)
			continue
		}
		p.mu.Lock()
		delete(p.inUse, name)
		delete(p.leaked, name)
		saveErr := p.ledger.save(ledgerSnapshot(p.leaked))
		p.mu.Unlock()
		if saveErr != nil {
			p.logger.Warn("failed to persist leaked-name ledger", "error", saveErr)
		}
		reclaimed = append(reclaimed, name)
	}
	return reclaimed, retained, nil
}
