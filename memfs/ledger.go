// Copyright 2026 The Scratchbox Authors
// SPDX-License-Identifier: Apache-2.0

package memfs

import (
	"fmt"
	"os"
	"sort"

	"github.com/scratch-foundation/scratchbox/lib/codec"
)

// ledgerFile is the name of the leaked-name ledger, stored beside the
// mount points under the memfs root.
const ledgerFile = ".leaked"

// ledgerRecord is the on-disk form of the ledger. CBOR-encoded with the
// deterministic codec so identical name sets produce identical files.
type ledgerRecord struct {
	Names []string `cbor:"names"`
}

// ledger persists the set of names whose backing directories could not be
// fully removed. A pool loads it at construction so a restarted process
// never reuses a name whose mount may still partially exist.
type ledger struct {
	path string
}

func newLedger(path string) *ledger {
	return &ledger{path: path}
}

// load reads the ledger. A missing file is an empty ledger; a corrupt file
// is an error, since silently dropping reserved names would defeat the
// point of persisting them.
func (l *ledger) load() (map[string]struct{}, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		return make(map[string]struct{}), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading leaked-name ledger %s: %w", l.path, err)
	}

	var record ledgerRecord
	if err := codec.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("decoding leaked-name ledger %s: %w", l.path, err)
	}

	names := make(map[string]struct{}, len(record.Names))
	for _, name := range record.Names {
		names[name] = struct{}{}
	}
	return names, nil
}

// save writes the full name list, replacing any previous contents. An
// empty list removes the file. The write goes through a temp file and a
// rename so a reader (or a crash mid-write) never observes a torn ledger,
// which load would refuse. Callers must hold the pool lock; save does not
// serialize itself.
func (l *ledger) save(names []string) error {
	if len(names) == 0 {
		if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing leaked-name ledger %s: %w", l.path, err)
		}
		return nil
	}

	data, err := codec.Marshal(ledgerRecord{Names: names})
	if err != nil {
		return fmt.Errorf("encoding leaked-name ledger: %w", err)
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing leaked-name ledger %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("replacing leaked-name ledger %s: %w", l.path, err)
	}
	return nil
}

// ledgerSnapshot flattens a leaked-name set into the sorted slice form
// stored on disk. Callers must hold the pool lock.
func ledgerSnapshot(leaked map[string]struct{}) []string {
	names := make([]string, 0, len(leaked))
	for name := range leaked {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
