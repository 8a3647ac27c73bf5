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

import "sync"

// MemoryBackend is the default, non-durable Backend: a process-local
// commit log and snapshot slot. Used for tests and for channels that
// do not need to survive a restart.
type MemoryBackend struct {
	mu      sync.Mutex
	entries []Entry
	snap    Snapshot
	hasSnap bool
}

// NewMemoryBackend creates an empty in-memory Backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (b *MemoryBackend) AppendEntry(entry Entry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	return nil
}

func (b *MemoryBackend) EntriesAfter(seqNo uint64) ([]Entry, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		if e.SeqNo > seqNo {
			out = append(out, e)
		}
	}
	return out, nil
}

func (b *MemoryBackend) WriteSnapshot(snap Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	// Assigning the whole struct at once is the atomic swap: readers
	// calling LatestSnapshot take the same lock and so never observe
	// a half-written snapshot.
	b.snap = snap
	b.hasSnap = true
	return nil
}

func (b *MemoryBackend) LatestSnapshot() (Snapshot, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.snap, b.hasSnap, nil
}

func (b *MemoryBackend) TruncateBefore(seqNo uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.entries[:0]
	for _, e := range b.entries {
		if e.SeqNo > seqNo {
			kept = append(kept, e)
		}
	}
	b.entries = kept
	return nil
}
