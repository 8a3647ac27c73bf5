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

// The session-handshake and member-registry surface a concrete
// transport (owned by cmd/spacepandad, never by App) needs to drive:
// establishing a session with a peer, feeding it inbound ciphertext,
// and telling the Network Layer which peers belong to which channel.
package app

import (
	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/transport/session"
)

func (a *App) requireSessions() (*session.Registry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sessions == nil {
		return nil, ErrLocked
	}
	return a.sessions, nil
}

// InitiateHandshake starts a handshake with peer, returning the frame
// the caller's transport must deliver to it.
func (a *App) InitiateHandshake(peer string) (session.Frame, error) {
	sessions, err := a.requireSessions()
	if err != nil {
		return session.Frame{}, err
	}
	return sessions.InitiateHandshake(peer)
}

// HandleHandshakeFrame feeds an inbound handshake frame from peer into
// its session. A non-nil returned frame must be sent back to peer.
func (a *App) HandleHandshakeFrame(peer string, frame session.Frame) (*session.Frame, error) {
	sessions, err := a.requireSessions()
	if err != nil {
		return nil, err
	}
	return sessions.HandleHandshakeFrame(peer, frame)
}

// HandleInboundFrame decrypts and routes a ciphertext frame received
// from peer's established session to the Channel Manager.
// cmd/spacepandad calls this for every frame its transport reads off
// the wire.
func (a *App) HandleInboundFrame(peer string, ciphertext []byte) error {
	a.mu.Lock()
	layer := a.netLayer
	a.mu.Unlock()
	if layer == nil {
		return ErrLocked
	}
	return layer.OnInbound(peer, ciphertext)
}

// ActivePeers reports how many peers currently hold a session entry,
// feeding the active_peers gauge spec.md #4.13 names.
func (a *App) ActivePeers() (int, error) {
	sessions, err := a.requireSessions()
	if err != nil {
		return 0, err
	}
	return sessions.ActivePeers(), nil
}

// RegisterPeer associates peer with userIdentity as a member of
// channelID in the local member registry, so a later Broadcast or
// BroadcastCommit on that channel is delivered to it.
func (a *App) RegisterPeer(channelID channel.ChannelID, peer, userIdentity string) error {
	a.mu.Lock()
	members := a.members
	a.mu.Unlock()
	if members == nil {
		return ErrLocked
	}
	members.AddMember(channelID, peer, userIdentity)
	return nil
}

// UnregisterPeer removes peer from channelID's member registry.
func (a *App) UnregisterPeer(channelID channel.ChannelID, peer string) error {
	a.mu.Lock()
	members := a.members
	a.mu.Unlock()
	if members == nil {
		return ErrLocked
	}
	members.RemoveMember(channelID, peer)
	return nil
}
