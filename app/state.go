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

// Persisted-state operations spec.md #6 names directly: snapshot,
// restore, stats. Each is a thin pass-through to channel.Manager's own
// Store-backed methods, scoped to one channel at a time — there is no
// whole-node snapshot, since every channel owns an independent Store.
package app

import "github.com/spacepanda/core/channel"

// Snapshot persists channelID's current CRDT state and truncates the
// commit-log entries it now causally dominates.
func (a *App) Snapshot(channelID channel.ChannelID) error {
	m, err := a.requireManager()
	if err != nil {
		return err
	}
	return m.Snapshot(channelID)
}

// Restore reloads channelID's CRDT state from its latest snapshot plus
// any commit-log entries after it.
func (a *App) Restore(channelID channel.ChannelID) error {
	m, err := a.requireManager()
	if err != nil {
		return err
	}
	return m.RestoreChannel(channelID)
}

// StoreStats reports how many of channelID's commit-log entries and
// snapshots have failed to decrypt or decode.
type StoreStats struct {
	CorruptEntries   int
	CorruptSnapshots int
}

// Stats returns channelID's corrupt-record counters.
func (a *App) Stats(channelID channel.ChannelID) (StoreStats, error) {
	m, err := a.requireManager()
	if err != nil {
		return StoreStats{}, err
	}
	entries, snapshots, err := m.Stats(channelID)
	if err != nil {
		return StoreStats{}, err
	}
	return StoreStats{CorruptEntries: entries, CorruptSnapshots: snapshots}, nil
}
