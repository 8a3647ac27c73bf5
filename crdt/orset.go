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

// ORSet is an observed-remove set: an element is visible once at least
// one of its add ids survives, i.e. is not present in its tombstone
// set. Add, Remove and Merge are commutative, associative and
// idempotent.
type ORSet struct {
	mu sync.Mutex

	channelID         string
	enforceSignatures bool
	authorizedKeys    []ed25519.PublicKey

	elements   map[string]map[string]struct{}
	tombstones map[string]map[string]struct{}
	clock      VectorClock
}

// NewORSet creates an empty ORSet scoped to channelID. When
// enforceSignatures is true, every Add/Remove must carry a valid
// signature from authorizedKeys or it is rejected without mutating
// state.
func NewORSet(channelID string, enforceSignatures bool, authorizedKeys []ed25519.PublicKey) *ORSet {
	return &ORSet{
		channelID:         channelID,
		enforceSignatures: enforceSignatures,
		authorizedKeys:    authorizedKeys,
		elements:          make(map[string]map[string]struct{}),
		tombstones:        make(map[string]map[string]struct{}),
		clock:             VectorClock{},
	}
}

func (s *ORSet) verify(op []byte, meta OperationMetadata) error {
	if err := meta.verifySignature(op, s.authorizedKeys, s.enforceSignatures); err != nil {
		metrics.CRDTMergeRejected.WithLabelValues("bad_signature").Inc()
		return err
	}
	return nil
}

// Add inserts addID into elem's add-id set, making elem visible.
func (s *ORSet) Add(elem, addID string, meta OperationMetadata) error {
	if err := s.verify([]byte("add:"+elem+":"+addID), meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Merge(meta.VC)
	if s.elements[elem] == nil {
		s.elements[elem] = make(map[string]struct{})
	}
	s.elements[elem][addID] = struct{}{}
	return nil
}

// Remove tombstones every add id of elem that is currently visible.
// Add ids observed after this call (a concurrent Add racing this
// Remove) remain visible, which is the defining observed-remove
// property.
func (s *ORSet) Remove(elem string, meta OperationMetadata) error {
	if err := s.verify([]byte("remove:"+elem), meta); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clock = s.clock.Merge(meta.VC)
	for addID := range s.elements[elem] {
		s.tombstone(elem, addID)
	}
	return nil
}

// tombstone must be called with mu held.
func (s *ORSet) tombstone(elem, addID string) {
	if s.tombstones[elem] == nil {
		s.tombstones[elem] = make(map[string]struct{})
	}
	s.tombstones[elem][addID] = struct{}{}
}

// Contains reports whether elem has at least one add id that is not
// tombstoned.
func (s *ORSet) Contains(elem string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.containsLocked(elem)
}

func (s *ORSet) containsLocked(elem string) bool {
	tombstoned := s.tombstones[elem]
	for addID := range s.elements[elem] {
		if _, dead := tombstoned[addID]; !dead {
			return true
		}
	}
	return false
}

// Elements returns every currently visible element.
func (s *ORSet) Elements() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.elements))
	for elem := range s.elements {
		if s.containsLocked(elem) {
			out = append(out, elem)
		}
	}
	return out
}

// Clock returns the set's current vector clock.
func (s *ORSet) Clock() VectorClock {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock.Clone()
}

// Merge unions other's element and tombstone maps into s. Merge is the
// CRDT trait entry point; it type-asserts to *ORSet and delegates to
// MergeSet so the clock is folded in exactly once.
func (s *ORSet) Merge(other CRDT) error {
	o, ok := other.(*ORSet)
	if !ok {
		return fmt.Errorf("crdt: cannot merge %T into ORSet", other)
	}
	return s.MergeSet(o)
}

// MergeSet is the concrete, non-trait merge: union both element maps
// and both tombstone maps, then fold in other's clock.
func (s *ORSet) MergeSet(other *ORSet) error {
	start := time.Now()
	defer func() {
		metrics.CRDTMergeDuration.WithLabelValues("or_set").Observe(time.Since(start).Seconds())
		metrics.CRDTMergesApplied.WithLabelValues("or_set").Inc()
	}()
	if s == other {
		return nil
	}
	// Lock in a fixed order to avoid deadlocking against a concurrent
	// merge running the other direction.
	first, second := s, other
	if fmt.Sprintf("%p", s) > fmt.Sprintf("%p", other) {
		first, second = other, s
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	for elem, addIDs := range other.elements {
		if s.elements[elem] == nil {
			s.elements[elem] = make(map[string]struct{})
		}
		for addID := range addIDs {
			s.elements[elem][addID] = struct{}{}
		}
	}
	for elem, addIDs := range other.tombstones {
		if s.tombstones[elem] == nil {
			s.tombstones[elem] = make(map[string]struct{})
		}
		for addID := range addIDs {
			s.tombstones[elem][addID] = struct{}{}
		}
	}
	s.clock = s.clock.Merge(other.clock)
	return nil
}

// orSetWire is the serializable mirror of a set's unexported state.
type orSetWire struct {
	Elements   map[string][]string `json:"elements"`
	Tombstones map[string][]string `json:"tombstones"`
	Clock      VectorClock         `json:"clock"`
}

// Snapshot serializes the set's current elements, tombstones and
// clock, for a caller composing it into a larger store.State.
func (s *ORSet) Snapshot() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wire := orSetWire{
		Elements:   make(map[string][]string, len(s.elements)),
		Tombstones: make(map[string][]string, len(s.tombstones)),
		Clock:      s.clock,
	}
	for elem, ids := range s.elements {
		for id := range ids {
			wire.Elements[elem] = append(wire.Elements[elem], id)
		}
	}
	for elem, ids := range s.tombstones {
		for id := range ids {
			wire.Tombstones[elem] = append(wire.Tombstones[elem], id)
		}
	}
	return json.Marshal(wire)
}

// Restore replaces the set's contents with a previously Snapshotted
// state.
func (s *ORSet) Restore(data []byte) error {
	var wire orSetWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.elements = make(map[string]map[string]struct{}, len(wire.Elements))
	for elem, ids := range wire.Elements {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		s.elements[elem] = set
	}
	s.tombstones = make(map[string]map[string]struct{}, len(wire.Tombstones))
	for elem, ids := range wire.Tombstones {
		set := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			set[id] = struct{}{}
		}
		s.tombstones[elem] = set
	}
	s.clock = wire.Clock
	return nil
}
