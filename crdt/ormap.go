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

package crdt

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/spacepanda/core/internal/metrics"
)

// orMapEntry tracks a key's embedded OR-Set of add ids alongside
// either a scalar last-write-wins value or a nested CRDT value,
// whichever Put last stored.
type orMapEntry struct {
	addIDs     map[string]struct{}
	tombstones map[string]struct{}
	scalar     any
	nested     MergeableValue
}

func newORMapEntry() *orMapEntry {
	return &orMapEntry{
		addIDs:     make(map[string]struct{}),
		tombstones: make(map[string]struct{}),
	}
}

func (e *orMapEntry) visible() bool {
	for addID := range e.addIDs {
		if _, dead := e.tombstones[addID]; !dead {
			return true
		}
	}
	return false
}

func (e *orMapEntry) value() any {
	if e.nested != nil {
		return e.nested
	}
	return e.scalar
}

// ORMap is a key/value CRDT whose keys carry OR-Set visibility
// semantics: a key survives as long as any of its add ids is visible.
type ORMap struct {
	mu sync.Mutex

	channelID         string
	enforceSignatures bool
	authorizedKeys    []ed25519.PublicKey

	entries map[string]*orMapEntry
	clock   VectorClock
}

// NewORMap creates an empty ORMap scoped to channelID.
func NewORMap(channelID string, enforceSignatures bool, authorizedKeys []ed25519.PublicKey) *ORMap {
	return &ORMap{
		channelID:         channelID,
		enforceSignatures: enforceSignatures,
		authorizedKeys:    authorizedKeys,
		entries:           make(map[string]*orMapEntry),
		clock:             VectorClock{},
	}
}

func (m *ORMap) verify(op []byte, meta OperationMetadata) error {
	if err := meta.verifySignature(op, m.authorizedKeys, m.enforceSignatures); err != nil {
		metrics.CRDTMergeRejected.WithLabelValues("bad_signature").Inc()
		return err
	}
	return nil
}

// Put adds addID to key's embedded OR-Set and updates its value in
// place. This is the required correction over a naive "replace on
// first insert": a key that already exists still gets a fresh add id
// recorded, and its value is overwritten every time regardless of
// whether the key is new.
func (m *ORMap) Put(key string, value any, addID string, meta OperationMetadata) error {
	if err := m.verify([]byte("put:"+key+":"+addID), meta); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock = m.clock.Merge(meta.VC)
	entry, ok := m.entries[key]
	if !ok {
		entry = newORMapEntry()
		m.entries[key] = entry
	}
	entry.addIDs[addID] = struct{}{}
	if nested, isNested := value.(MergeableValue); isNested {
		entry.nested = nested
		entry.scalar = nil
	} else {
		entry.scalar = value
		entry.nested = nil
	}
	return nil
}

// Remove tombstones every currently visible add id for key.
func (m *ORMap) Remove(key string, meta OperationMetadata) error {
	if err := m.verify([]byte("remove:"+key), meta); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clock = m.clock.Merge(meta.VC)
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	for addID := range entry.addIDs {
		entry.tombstones[addID] = struct{}{}
	}
	return nil
}

// Get returns key's value and whether key is currently visible.
func (m *ORMap) Get(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok || !entry.visible() {
		return nil, false
	}
	return entry.value(), true
}

// Keys returns every currently visible key.
func (m *ORMap) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.entries))
	for key, entry := range m.entries {
		if entry.visible() {
			out = append(out, key)
		}
	}
	return out
}

// Clock returns the map's current vector clock.
func (m *ORMap) Clock() VectorClock {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clock.Clone()
}

// Merge is the CRDT trait entry point; it delegates to MergeMap so
// the clock is folded in exactly once.
func (m *ORMap) Merge(other CRDT) error {
	o, ok := other.(*ORMap)
	if !ok {
		return fmt.Errorf("crdt: cannot merge %T into ORMap", other)
	}
	return m.MergeMap(o)
}

// MergeMap merges shared keys' embedded OR-Sets and, for scalar
// values, keeps the value carried by whichever side's entry this
// merge is run from last (last-write-wins at the put layer, since
// Put always overwrites in place); nested CRDT values are merged
// recursively via MergeNested.
func (m *ORMap) MergeMap(other *ORMap) error {
	start := time.Now()
	defer func() {
		metrics.CRDTMergeDuration.WithLabelValues("or_map").Observe(time.Since(start).Seconds())
		metrics.CRDTMergesApplied.WithLabelValues("or_map").Inc()
	}()
	if m == other {
		return nil
	}
	first, second := m, other
	if fmt.Sprintf("%p", m) > fmt.Sprintf("%p", other) {
		first, second = other, m
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	for key, otherEntry := range other.entries {
		entry, ok := m.entries[key]
		if !ok {
			entry = newORMapEntry()
			m.entries[key] = entry
		}
		for addID := range otherEntry.addIDs {
			entry.addIDs[addID] = struct{}{}
		}
		for addID := range otherEntry.tombstones {
			entry.tombstones[addID] = struct{}{}
		}
		switch {
		case otherEntry.nested != nil && entry.nested != nil:
			entry.nested = entry.nested.MergeNested(otherEntry.nested)
		case otherEntry.nested != nil && entry.nested == nil:
			entry.nested = otherEntry.nested
			entry.scalar = nil
		case entry.nested == nil && entry.scalar == nil:
			entry.scalar = otherEntry.scalar
		}
	}
	m.clock = m.clock.Merge(other.clock)
	return nil
}

// orMapWireEntry is one key's serializable form. Nested CRDT values
// are not snapshotted: Snapshot/Restore only round-trip scalar
// entries, since every caller in this codebase keeps per-member LWW
// state in a standalone LWWRegister rather than as a nested ORMap
// value, and so never snapshots an ORMap holding one.
type orMapWireEntry struct {
	AddIDs     []string `json:"add_ids"`
	Tombstones []string `json:"tombstones"`
	Scalar     any      `json:"scalar,omitempty"`
}

type orMapWire struct {
	Entries map[string]orMapWireEntry `json:"entries"`
	Clock   VectorClock               `json:"clock"`
}

// Snapshot serializes the map's current scalar entries and clock, for
// a caller composing it into a larger store.State.
func (m *ORMap) Snapshot() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	wire := orMapWire{Entries: make(map[string]orMapWireEntry, len(m.entries)), Clock: m.clock}
	for key, entry := range m.entries {
		we := orMapWireEntry{Scalar: entry.scalar}
		for id := range entry.addIDs {
			we.AddIDs = append(we.AddIDs, id)
		}
		for id := range entry.tombstones {
			we.Tombstones = append(we.Tombstones, id)
		}
		wire.Entries[key] = we
	}
	return json.Marshal(wire)
}

// Restore replaces the map's contents with a previously Snapshotted
// state.
func (m *ORMap) Restore(data []byte) error {
	var wire orMapWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make(map[string]*orMapEntry, len(wire.Entries))
	for key, we := range wire.Entries {
		entry := newORMapEntry()
		entry.scalar = we.Scalar
		for _, id := range we.AddIDs {
			entry.addIDs[id] = struct{}{}
		}
		for _, id := range we.Tombstones {
			entry.tombstones[id] = struct{}{}
		}
		entries[key] = entry
	}
	m.entries = entries
	m.clock = wire.Clock
	return nil
}
