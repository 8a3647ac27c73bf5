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

// LWWRegister holds a single value, resolving conflicting writes by
// (timestamp, node id) lexicographic order: the later timestamp wins,
// ties broken by the greater node id.
type LWWRegister struct {
	mu sync.Mutex

	channelID         string
	enforceSignatures bool
	authorizedKeys    []ed25519.PublicKey

	value any
	ts    int64
	node  string
	clock VectorClock
}

// NewLWWRegister creates an empty register scoped to channelID.
func NewLWWRegister(channelID string, enforceSignatures bool, authorizedKeys []ed25519.PublicKey) *LWWRegister {
	return &LWWRegister{
		channelID:         channelID,
		enforceSignatures: enforceSignatures,
		authorizedKeys:    authorizedKeys,
		clock:             VectorClock{},
	}
}

func (r *LWWRegister) verify(op []byte, meta OperationMetadata) error {
	if err := meta.verifySignature(op, r.authorizedKeys, r.enforceSignatures); err != nil {
		metrics.CRDTMergeRejected.WithLabelValues("bad_signature").Inc()
		return err
	}
	return nil
}

// wins reports whether (ts, node) is strictly newer than the
// register's current (ts, node).
func (r *LWWRegister) wins(ts int64, node string) bool {
	if ts != r.ts {
		return ts > r.ts
	}
	return node > r.node
}

// Set records a candidate value at (ts, node); it only takes effect if
// it is newer than the register's current value.
func (r *LWWRegister) Set(value any, ts int64, node string, meta OperationMetadata) error {
	if err := r.verify([]byte(fmt.Sprintf("set:%d:%s", ts, node)), meta); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.clock = r.clock.Merge(meta.VC)
	if r.wins(ts, node) {
		r.value, r.ts, r.node = value, ts, node
	}
	return nil
}

// Value returns the register's current value.
func (r *LWWRegister) Value() any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.value
}

// Clock returns the register's current vector clock.
func (r *LWWRegister) Clock() VectorClock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clock.Clone()
}

// Merge is the CRDT trait entry point. It must delegate to the
// concrete MergeRegister rather than re-deriving the (ts, node)
// comparison and clock fold itself — duplicating that logic here
// would merge the vector clock twice whenever both the trait and the
// concrete path ran it, once at this layer and once inside
// MergeRegister.
func (r *LWWRegister) Merge(other CRDT) error {
	o, ok := other.(*LWWRegister)
	if !ok {
		return fmt.Errorf("crdt: cannot merge %T into LWWRegister", other)
	}
	return r.MergeRegister(o)
}

// MergeRegister is the concrete, non-trait merge: fold in other's
// clock exactly once, then keep whichever of the two (ts, node) pairs
// is newer.
func (r *LWWRegister) MergeRegister(other *LWWRegister) error {
	start := time.Now()
	defer func() {
		metrics.CRDTMergeDuration.WithLabelValues("lww_register").Observe(time.Since(start).Seconds())
		metrics.CRDTMergesApplied.WithLabelValues("lww_register").Inc()
	}()
	if r == other {
		return nil
	}
	first, second := r, other
	if fmt.Sprintf("%p", r) > fmt.Sprintf("%p", other) {
		first, second = other, r
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	r.clock = r.clock.Merge(other.clock)
	if r.wins(other.ts, other.node) {
		r.value, r.ts, r.node = other.value, other.ts, other.node
	}
	return nil
}

// lwwWire is the serializable mirror of a register's unexported state.
type lwwWire struct {
	Value any         `json:"value"`
	Ts    int64       `json:"ts"`
	Node  string      `json:"node"`
	Clock VectorClock `json:"clock"`
}

// Snapshot serializes the register's current value and (ts, node)
// winner, for a caller composing it into a larger store.State.
func (r *LWWRegister) Snapshot() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.Marshal(lwwWire{Value: r.value, Ts: r.ts, Node: r.node, Clock: r.clock})
}

// Restore replaces the register's contents with a previously
// Snapshotted state.
func (r *LWWRegister) Restore(data []byte) error {
	var w lwwWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.value, r.ts, r.node, r.clock = w.Value, w.Ts, w.Node, w.Clock
	return nil
}
