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
	"github.com/stretchr/testify/require"
)

func TestORMapPutOnNewKeyCreatesEntry(t *testing.T) {
	m := NewORMap(testChannelID, false, nil)
	require.NoError(t, m.Put("topic", "hello", "a1", unsignedMeta(nil)))

	v, ok := m.Get("topic")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestORMapPutOnExistingKeyAddsIDAndUpdatesValueInPlace(t *testing.T) {
	// The required correction over a naive replace: a second Put for
	// the same key must extend the embedded OR-Set (not replace it)
	// and still update the value.
	m := NewORMap(testChannelID, false, nil)
	require.NoError(t, m.Put("topic", "v1", "a1", unsignedMeta(nil)))
	require.NoError(t, m.Put("topic", "v2", "a2", unsignedMeta(nil)))

	entry := m.entries["topic"]
	assert.Len(t, entry.addIDs, 2)
	v, ok := m.Get("topic")
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestORMapRemoveTombstonesAllVisibleAddIDs(t *testing.T) {
	m := NewORMap(testChannelID, false, nil)
	require.NoError(t, m.Put("topic", "v1", "a1", unsignedMeta(nil)))
	require.NoError(t, m.Put("topic", "v2", "a2", unsignedMeta(nil)))
	require.NoError(t, m.Remove("topic", unsignedMeta(nil)))

	_, ok := m.Get("topic")
	assert.False(t, ok)
}

func TestORMapMergeUnionsEmbeddedSets(t *testing.T) {
	a := NewORMap(testChannelID, false, nil)
	require.NoError(t, a.Put("topic", "from-a", "a1", unsignedMeta(nil)))

	b := NewORMap(testChannelID, false, nil)
	require.NoError(t, b.Put("topic", "from-b", "b1", unsignedMeta(nil)))

	require.NoError(t, a.MergeMap(b))

	entry := a.entries["topic"]
	assert.Len(t, entry.addIDs, 2)
	_, ok := a.Get("topic")
	assert.True(t, ok)
}

type fakeNestedValue struct {
	tag string
}

func (v *fakeNestedValue) MergeNested(other MergeableValue) MergeableValue {
	o := other.(*fakeNestedValue)
	return &fakeNestedValue{tag: v.tag + "+" + o.tag}
}

func TestORMapMergeDelegatesNestedValuesToMergeNested(t *testing.T) {
	a := NewORMap(testChannelID, false, nil)
	require.NoError(t, a.Put("group", &fakeNestedValue{tag: "a"}, "a1", unsignedMeta(nil)))

	b := NewORMap(testChannelID, false, nil)
	require.NoError(t, b.Put("group", &fakeNestedValue{tag: "b"}, "b1", unsignedMeta(nil)))

	require.NoError(t, a.MergeMap(b))

	v, ok := a.Get("group")
	require.True(t, ok)
	assert.Equal(t, "a+b", v.(*fakeNestedValue).tag)
}
