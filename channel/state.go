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

package channel

import (
	"encoding/json"
	"fmt"

	"github.com/spacepanda/core/crdt"
	"github.com/spacepanda/core/store"
)

// opKind identifies what a channelOp does to channelState. The store
// layer treats the op payload as opaque; only applyChannelOp
// interprets it.
type opKind string

const (
	opSetMetadata opKind = "set_metadata"
	opSetRole     opKind = "set_role"
	opMarkSeen    opKind = "mark_seen"
)

// channelOp is the JSON-encoded operation channelRuntime appends to
// its store: a tagged union over the three things a channel's CRDT
// state ever records locally.
type channelOp struct {
	Kind  opKind
	Key   string // metadata key / member identity / message id
	Value string // metadata value / role string
	AddID string // OR-Map / OR-Set add id
	TS    int64  // LWW timestamp, only used for opSetRole
	Node  string // LWW node id, only used for opSetRole
}

// channelState is the CRDT-backed state persisted per channel: scalar
// metadata (name, visibility) in an OR-Map, one LWW role register per
// member identity, and an OR-Set of already-applied message envelope
// ids so a retransmitted envelope is never double-counted. Signature
// enforcement is left off at this layer (enforceSignatures=false):
// the Channel Manager itself checks the acting identity's role before
// ever constructing an op, so there is no remote, unauthenticated
// writer for these CRDTs to defend against the way a shared public
// membership log would need to.
type channelState struct {
	channelID string

	metadata *crdt.ORMap
	roles    map[string]*crdt.LWWRegister
	seen     *crdt.ORSet
}

var _ store.State = (*channelState)(nil)

func newChannelState(channelID string) *channelState {
	return &channelState{
		channelID: channelID,
		metadata:  crdt.NewORMap(channelID, false, nil),
		roles:     make(map[string]*crdt.LWWRegister),
		seen:      crdt.NewORSet(channelID, false, nil),
	}
}

func (s *channelState) registerFor(identity string) *crdt.LWWRegister {
	reg, ok := s.roles[identity]
	if !ok {
		reg = crdt.NewLWWRegister(s.channelID, false, nil)
		s.roles[identity] = reg
	}
	return reg
}

// roleOf returns identity's current role and whether it has ever been
// set at all.
func (s *channelState) roleOf(identity string) (Role, bool) {
	reg, ok := s.roles[identity]
	if !ok {
		return RoleReadOnly, false
	}
	str, ok := reg.Value().(string)
	if !ok {
		return RoleReadOnly, false
	}
	return roleFromString(str), true
}

// adminCount returns how many members currently hold RoleAdmin.
func (s *channelState) adminCount() int {
	n := 0
	for _, reg := range s.roles {
		if str, ok := reg.Value().(string); ok && roleFromString(str) == RoleAdmin {
			n++
		}
	}
	return n
}

// Clock implements crdt.CRDT by folding every sub-CRDT's clock together.
func (s *channelState) Clock() crdt.VectorClock {
	vc := s.metadata.Clock().Merge(s.seen.Clock())
	for _, reg := range s.roles {
		vc = vc.Merge(reg.Clock())
	}
	return vc
}

// Merge implements crdt.CRDT: fold other's metadata, seen-set and
// per-member role registers into s.
func (s *channelState) Merge(other crdt.CRDT) error {
	o, ok := other.(*channelState)
	if !ok {
		return fmt.Errorf("channel: cannot merge %T into channel state", other)
	}
	if err := s.metadata.MergeMap(o.metadata); err != nil {
		return err
	}
	if err := s.seen.MergeSet(o.seen); err != nil {
		return err
	}
	for identity, otherReg := range o.roles {
		if err := s.registerFor(identity).MergeRegister(otherReg); err != nil {
			return err
		}
	}
	return nil
}

// stateWire is channelState's serializable form: each sub-CRDT
// snapshots itself independently and channelState just bundles them.
type stateWire struct {
	Metadata []byte            `json:"metadata"`
	Seen     []byte            `json:"seen"`
	Roles    map[string][]byte `json:"roles"`
}

func (s *channelState) MarshalState() ([]byte, error) {
	metaBytes, err := s.metadata.Snapshot()
	if err != nil {
		return nil, err
	}
	seenBytes, err := s.seen.Snapshot()
	if err != nil {
		return nil, err
	}
	roles := make(map[string][]byte, len(s.roles))
	for identity, reg := range s.roles {
		b, err := reg.Snapshot()
		if err != nil {
			return nil, err
		}
		roles[identity] = b
	}
	return json.Marshal(stateWire{Metadata: metaBytes, Seen: seenBytes, Roles: roles})
}

func (s *channelState) UnmarshalState(data []byte) error {
	var wire stateWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	if err := s.metadata.Restore(wire.Metadata); err != nil {
		return err
	}
	if err := s.seen.Restore(wire.Seen); err != nil {
		return err
	}
	roles := make(map[string]*crdt.LWWRegister, len(wire.Roles))
	for identity, b := range wire.Roles {
		reg := crdt.NewLWWRegister(s.channelID, false, nil)
		if err := reg.Restore(b); err != nil {
			return err
		}
		roles[identity] = reg
	}
	s.roles = roles
	return nil
}

// applyChannelOp is the store.ApplyFunc every channelRuntime's Store
// uses: it decodes op as a channelOp and dispatches to the matching
// sub-CRDT mutation.
func applyChannelOp(state store.State, op []byte, meta crdt.OperationMetadata) error {
	cs, ok := state.(*channelState)
	if !ok {
		return fmt.Errorf("channel: unexpected state type %T", state)
	}
	var co channelOp
	if err := json.Unmarshal(op, &co); err != nil {
		return err
	}
	switch co.Kind {
	case opSetMetadata:
		return cs.metadata.Put(co.Key, co.Value, co.AddID, meta)
	case opSetRole:
		return cs.registerFor(co.Key).Set(co.Value, co.TS, co.Node, meta)
	case opMarkSeen:
		return cs.seen.Add(co.Key, co.AddID, meta)
	default:
		return fmt.Errorf("channel: unknown op kind %q", co.Kind)
	}
}
