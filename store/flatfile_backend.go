// SpacePanda - privacy-first peer-to-peer encrypted group messaging
// Copyright (C) 2025 spacepanda-project
//
// This file is part of SpacePanda.
//
// SpacePanda is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SpacePanda is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SpacePanda. If not, see <https://www.gnu.org/licenses/>.

package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FlatFileBackend persists the commit log as newline-delimited JSON
// records in one file, and the snapshot as a second file swapped into
// place with a rename so readers never see a partial write.
type FlatFileBackend struct {
	mu           sync.Mutex
	logPath      string
	snapshotPath string
}

// NewFlatFileBackend creates a Backend rooted at dir, creating it if
// necessary. The commit log and snapshot live at dir/commit.log and
// dir/snapshot.json.
func NewFlatFileBackend(dir string) (*FlatFileBackend, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("store: create data dir: %w", err)
	}
	return &FlatFileBackend{
		logPath:      filepath.Join(dir, "commit.log"),
		snapshotPath: filepath.Join(dir, "snapshot.json"),
	}, nil
}

type flatFileEntry struct {
	SeqNo         uint64 `json:"seq_no"`
	SchemaVersion uint8  `json:"schema_version"`
	VC            map[string]uint64 `json:"vc"`
	Nonce         []byte `json:"nonce"`
	Ciphertext    []byte `json:"ciphertext"`
}

func (b *FlatFileBackend) AppendEntry(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.OpenFile(b.logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("store: open commit log: %w", err)
	}
	defer f.Close()

	line, err := json.Marshal(toFlatFileEntry(entry))
	if err != nil {
		return fmt.Errorf("store: encode entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("store: append entry: %w", err)
	}
	return nil
}

func (b *FlatFileBackend) EntriesAfter(seqNo uint64) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.logPath)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: open commit log: %w", err)
	}
	defer f.Close()

	var out []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var raw flatFileEntry
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			// A malformed line is skipped rather than failing the
			// whole read. It is not returned to the caller, so
			// Store.Load's corrupt-entry counter does not count it.
			continue
		}
		if raw.SeqNo > seqNo {
			out = append(out, fromFlatFileEntry(raw))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("store: scan commit log: %w", err)
	}
	return out, nil
}

func (b *FlatFileBackend) WriteSnapshot(snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := json.Marshal(toFlatFileEntry(Entry{
		SeqNo:         snap.SeqNo,
		SchemaVersion: snap.SchemaVersion,
		VC:            snap.VC,
		Nonce:         snap.Nonce,
		Ciphertext:    snap.Ciphertext,
	}))
	if err != nil {
		return fmt.Errorf("store: encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.snapshotPath), "snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("store: sync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: close temp snapshot: %w", err)
	}
	// Rename is the atomic swap: a reader opening snapshotPath either
	// sees the old complete file or the new complete file, never a
	// half-written one.
	if err := os.Rename(tmpPath, b.snapshotPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: swap snapshot: %w", err)
	}
	return nil
}

func (b *FlatFileBackend) LatestSnapshot() (Snapshot, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	data, err := os.ReadFile(b.snapshotPath)
	if os.IsNotExist(err) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("store: read snapshot: %w", err)
	}
	var raw flatFileEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, false, nil
	}
	entry := fromFlatFileEntry(raw)
	return Snapshot{
		SeqNo:         entry.SeqNo,
		SchemaVersion: entry.SchemaVersion,
		VC:            entry.VC,
		Nonce:         entry.Nonce,
		Ciphertext:    entry.Ciphertext,
	}, true, nil
}

// TruncateBefore rewrites the commit log keeping only entries with a
// seq number greater than seqNo, via the same temp-file-then-rename
// swap WriteSnapshot uses.
func (b *FlatFileBackend) TruncateBefore(seqNo uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	f, err := os.Open(b.logPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("store: open commit log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.logPath), "commit-*.tmp")
	if err != nil {
		f.Close()
		return fmt.Errorf("store: create temp commit log: %w", err)
	}
	tmpPath := tmp.Name()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	writer := bufio.NewWriter(tmp)
	for scanner.Scan() {
		var raw flatFileEntry
		if err := json.Unmarshal(scanner.Bytes(), &raw); err != nil {
			continue
		}
		if raw.SeqNo > seqNo {
			writer.Write(scanner.Bytes())
			writer.WriteByte('\n')
		}
	}
	f.Close()
	flushErr := writer.Flush()
	syncErr := tmp.Sync()
	closeErr := tmp.Close()
	if flushErr != nil || syncErr != nil || closeErr != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: rewrite commit log: flush=%v sync=%v close=%v", flushErr, syncErr, closeErr)
	}
	if err := os.Rename(tmpPath, b.logPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("store: swap commit log: %w", err)
	}
	return nil
}

func toFlatFileEntry(e Entry) flatFileEntry {
	return flatFileEntry{
		SeqNo:         e.SeqNo,
		SchemaVersion: e.SchemaVersion,
		VC:            map[string]uint64(e.VC),
		Nonce:         e.Nonce,
		Ciphertext:    e.Ciphertext,
	}
}

func fromFlatFileEntry(raw flatFileEntry) Entry {
	return Entry{
		SeqNo:         raw.SeqNo,
		SchemaVersion: raw.SchemaVersion,
		VC:            raw.VC,
		Nonce:         raw.Nonce,
		Ciphertext:    raw.Ciphertext,
	}
}
