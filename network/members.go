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

package network

import (
	"sync"

	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/internal/metrics"
)

// MemberRegistry maps a channel to the peers currently believed to
// hold a live copy of it, and each peer to the user identity it
// carries traffic for. broadcast_to_channel consults the former to
// know who to send to; on_inbound consults the latter to resolve a
// wire peer id back to a channel member's identity.
type MemberRegistry struct {
	mu      sync.RWMutex
	peers   map[channel.ChannelID]map[string]struct{}
	userFor map[string]string
}

// NewMemberRegistry creates an empty registry.
func NewMemberRegistry() *MemberRegistry {
	return &MemberRegistry{
		peers:   make(map[channel.ChannelID]map[string]struct{}),
		userFor: make(map[string]string),
	}
}

// AddMember records that peer (carrying traffic for userIdentity)
// participates in channelID.
func (r *MemberRegistry) AddMember(channelID channel.ChannelID, peer, userIdentity string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.peers[channelID]
	if !ok {
		set = make(map[string]struct{})
		r.peers[channelID] = set
	}
	set[peer] = struct{}{}
	r.userFor[peer] = userIdentity
	metrics.ChannelMembers.Set(float64(len(r.userFor)))
}

// RemoveMember drops peer from channelID's membership. It does not
// forget peer's user identity, since the same peer may still be a
// member of other channels.
func (r *MemberRegistry) RemoveMember(channelID channel.ChannelID, peer string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.peers[channelID]; ok {
		delete(set, peer)
		if len(set) == 0 {
			delete(r.peers, channelID)
		}
	}
}

// PeersFor returns the peers currently registered against channelID.
func (r *MemberRegistry) PeersFor(channelID channel.ChannelID) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.peers[channelID]
	out := make([]string, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	return out
}

// UserFor resolves peer to the user identity it carries traffic for.
func (r *MemberRegistry) UserFor(peer string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	identity, ok := r.userFor[peer]
	return identity, ok
}
