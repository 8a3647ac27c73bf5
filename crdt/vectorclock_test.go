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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVectorClockMergeIsElementWiseMax(t *testing.T) {
	a := VectorClock{"n1": 3, "n2": 1}
	b := VectorClock{"n1": 2, "n2": 5, "n3": 1}

	merged := a.Merge(b)
	assert.Equal(t, VectorClock{"n1": 3, "n2": 5, "n3": 1}, merged)
}

func TestVectorClockDominates(t *testing.T) {
	a := VectorClock{"n1": 3, "n2": 2}
	b := VectorClock{"n1": 1, "n2": 2}
	assert.True(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
}

func TestVectorClockEqualClocksDoNotDominate(t *testing.T) {
	a := VectorClock{"n1": 1}
	b := VectorClock{"n1": 1}
	assert.False(t, a.Dominates(b))
	assert.False(t, b.Dominates(a))
}

func TestVectorClockConcurrentWith(t *testing.T) {
	a := VectorClock{"n1": 2, "n2": 0}
	b := VectorClock{"n1": 0, "n2": 2}
	assert.True(t, a.ConcurrentWith(b))
	assert.True(t, b.ConcurrentWith(a))
}

func TestVectorClockNotConcurrentWhenOneDominates(t *testing.T) {
	a := VectorClock{"n1": 5}
	b := VectorClock{"n1": 2}
	assert.False(t, a.ConcurrentWith(b))
}
