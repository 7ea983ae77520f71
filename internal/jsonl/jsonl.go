// Package jsonl reads and writes JSON Lines files, including scope snapshot
// files whose first line is the root fragment and whose remaining lines are
// add fragments, parents first.
package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/jetstream/pkg/fragment"
	"github.com/mesh-intelligence/jetstream/pkg/types"
)

// maxLine bounds a single record. Snapshot lines carry a whole object.
const maxLine = 16 << 20

// ErrEmptySnapshot is returned when a snapshot file holds no records.
var ErrEmptySnapshot = errors.New("snapshot file is empty")

// Read returns each non-empty, parseable line of path. Malformed lines are
// skipped.
func Read(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var records []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		records = append(records, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return records, nil
}

// Write atomically replaces path with records, one per line, using the
// temp-file, fsync, rename pattern.
func Write(path string, records []json.RawMessage) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(format string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf(format, err)
	}

	w := bufio.NewWriter(tmp)
	for _, rec := range records {
		if _, err := w.Write(rec); err != nil {
			return fail("writing record: %w", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// WriteSnapshot writes snap to path, root fragment first.
func WriteSnapshot(path string, snap *fragment.Snapshot) error {
	if snap == nil || snap.Root == nil {
		return types.ErrInvalidFragment.Withf("snapshot has no root fragment")
	}
	records := make([]json.RawMessage, 0, snap.Len())
	for _, f := range append([]*fragment.SyncFragment{snap.Root}, snap.Fragments...) {
		b, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encoding fragment %s: %w", f.ObjectUUID(), err)
		}
		records = append(records, b)
	}
	return Write(path, records)
}

// ReadSnapshot reads a snapshot written by WriteSnapshot. Unlike Read it
// fails on a line that is valid JSON but not a valid fragment, since a
// skipped object would orphan its children.
func ReadSnapshot(path string) (*fragment.Snapshot, error) {
	records, err := Read(path)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", path, ErrEmptySnapshot)
	}

	snap := &fragment.Snapshot{Fragments: make([]*fragment.SyncFragment, 0, len(records)-1)}
	for i, rec := range records {
		f := new(fragment.SyncFragment)
		if err := json.Unmarshal(rec, f); err != nil {
			return nil, fmt.Errorf("%s record %d: %w", path, i+1, err)
		}
		if i == 0 {
			snap.Root = f
			continue
		}
		snap.Fragments = append(snap.Fragments, f)
	}
	return snap, nil
}
