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

// VectorClock maps node id to the count of operations from that node
// causally included so far. A nil map is a valid, empty clock.
type VectorClock map[string]uint64

// Clone returns an independent copy of vc.
func (vc VectorClock) Clone() VectorClock {
	out := make(VectorClock, len(vc))
	for k, v := range vc {
		out[k] = v
	}
	return out
}

// Merge returns the element-wise max of vc and other. Neither input is
// mutated.
func (vc VectorClock) Merge(other VectorClock) VectorClock {
	out := vc.Clone()
	for node, count := range other {
		if count > out[node] {
			out[node] = count
		}
	}
	return out
}

// Dominates reports whether vc causally dominates other: every entry
// of vc is at least other's, and at least one is strictly greater.
func (vc VectorClock) Dominates(other VectorClock) bool {
	strictlyGreater := false
	for node, count := range other {
		if vc[node] < count {
			return false
		}
	}
	for node, count := range vc {
		if count > other[node] {
			strictlyGreater = true
		}
	}
	return strictlyGreater
}

// ConcurrentWith reports whether neither clock dominates the other.
func (vc VectorClock) ConcurrentWith(other VectorClock) bool {
	return !vc.Dominates(other) && !other.Dominates(vc)
}

// Equal reports whether vc and other hold the same non-zero entries.
func (vc VectorClock) Equal(other VectorClock) bool {
	for node, count := range vc {
		if count != 0 && other[node] != count {
			return false
		}
	}
	for node, count := range other {
		if count != 0 && vc[node] != count {
			return false
		}
	}
	return true
}
