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

// CRDT is the trait every primitive in this package satisfies, used by
// the store layer (C9) to merge deltas without knowing their concrete
// type. Merge must type-assert other to the concrete type and delegate
// to that type's own non-trait merge method, never re-deriving the
// merge itself — see each type's Merge for why: the vector clock must
// be folded in exactly once per call, and duplicating that logic at
// both the trait and concrete level risks doing it twice.
type CRDT interface {
	Merge(other CRDT) error
	Clock() VectorClock
}

// MergeableValue lets an OR-Map value be a nested CRDT instead of a
// plain scalar. When a value implements MergeableValue, OR-Map.Merge
// calls MergeNested instead of applying last-write-wins.
type MergeableValue interface {
	MergeNested(other MergeableValue) MergeableValue
}
