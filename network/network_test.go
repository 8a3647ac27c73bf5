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
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/transport/session"
)

// pairedSessions establishes a complete handshake between two
// session.Registry instances naming each other, so EncryptOutbound /
// HandleData on either side exercise a real Established session.
func pairedSessions(t *testing.T) (a, b *session.Registry) {
	t.Helper()
	a = session.NewRegistry("node-a")
	b = session.NewRegistry("node-b")

	frame, err := a.InitiateHandshake("node-b")
	require.NoError(t, err)
	reply, err := b.HandleHandshakeFrame("node-a", frame)
	require.NoError(t, err)
	require.NotNil(t, reply)
	finalReply, err := a.HandleHandshakeFrame("node-b", *reply)
	require.NoError(t, err)
	require.Nil(t, finalReply)
	return a, b
}

// fakeRouter records every envelope/commit routed to it.
type fakeRouter struct {
	mu        sync.Mutex
	envelopes []channel.ChannelID
	commits   []channel.ChannelID
}

func (r *fakeRouter) ReceiveEnvelope(channelID channel.ChannelID, envelope []byte) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, channelID)
	return envelope, nil
}

func (r *fakeRouter) ProcessCommit(channelID channel.ChannelID, commit []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, channelID)
	return nil
}

func TestBroadcastDeliversToRegisteredPeersOnly(t *testing.T) {
	nodeA, nodeB := pairedSessions(t)

	members := NewMemberRegistry()
	channelID := channel.NewChannelID()
	members.AddMember(channelID, "node-b", "bob")

	router := &fakeRouter{}
	var decoded wireFrame
	sender := func(peer string, ciphertext []byte) error {
		require.Equal(t, "node-b", peer)
		plaintext, err := nodeB.HandleData("node-a", ciphertext)
		require.NoError(t, err)
		return json.Unmarshal(plaintext, &decoded)
	}

	layer := New(nodeA, sender, members, router)
	require.NoError(t, layer.Broadcast(channelID, []byte("sealed envelope bytes")))
	assert.Equal(t, "sealed envelope bytes", string(decoded.Payload))
	assert.Equal(t, channelID, decoded.ChannelID)
}

func TestBroadcastToNoMembersIsANoOp(t *testing.T) {
	nodeA, _ := pairedSessions(t)
	members := NewMemberRegistry()
	router := &fakeRouter{}
	sender := func(peer string, ciphertext []byte) error {
		t.Fatal("sender should not be called with no registered members")
		return nil
	}

	layer := New(nodeA, sender, members, router)
	require.NoError(t, layer.Broadcast(channel.NewChannelID(), []byte("x")))
}

func TestOnInboundRoutesEnvelopeToChannelManager(t *testing.T) {
	nodeA, nodeB := pairedSessions(t)
	channelID := channel.NewChannelID()

	members := NewMemberRegistry()
	members.AddMember(channelID, "node-a", "alice")
	router := &fakeRouter{}

	senderB := func(peer string, ciphertext []byte) error { return nil }
	layerB := New(nodeB, senderB, NewMemberRegistry(), router)

	membersA := members
	senderA := func(peer string, ciphertext []byte) error {
		return layerB.OnInbound("node-a", ciphertext)
	}
	layerA := New(nodeA, senderA, membersA, &fakeRouter{})

	require.NoError(t, layerA.Broadcast(channelID, []byte("hello")))

	router.mu.Lock()
	defer router.mu.Unlock()
	require.Len(t, router.envelopes, 1)
	assert.Equal(t, channelID, router.envelopes[0])
}

func TestOnInboundRoutesCommitToChannelManager(t *testing.T) {
	nodeA, nodeB := pairedSessions(t)
	channelID := channel.NewChannelID()

	members := NewMemberRegistry()
	members.AddMember(channelID, "node-a", "alice")
	router := &fakeRouter{}

	layerB := New(nodeB, func(string, []byte) error { return nil }, NewMemberRegistry(), router)
	layerA := New(nodeA, func(peer string, ciphertext []byte) error {
		return layerB.OnInbound("node-a", ciphertext)
	}, members, &fakeRouter{})

	require.NoError(t, layerA.BroadcastCommit(channelID, []byte("commit bytes")))

	router.mu.Lock()
	defer router.mu.Unlock()
	require.Len(t, router.commits, 1)
	assert.Equal(t, channelID, router.commits[0])
}

func TestOnInboundRejectsUndecodableFrame(t *testing.T) {
	nodeA, nodeB := pairedSessions(t)

	ciphertext, err := nodeA.EncryptOutbound("node-b", []byte("not json"))
	require.NoError(t, err)

	layerB := New(nodeB, nil, NewMemberRegistry(), &fakeRouter{})
	err = layerB.OnInbound("node-a", ciphertext)
	assert.ErrorIs(t, err, ErrDecodeFrame)
}

func TestMemberRegistryTracksUserIdentity(t *testing.T) {
	members := NewMemberRegistry()
	channelID := channel.NewChannelID()
	members.AddMember(channelID, "peer-1", "alice")

	identity, ok := members.UserFor("peer-1")
	require.True(t, ok)
	assert.Equal(t, "alice", identity)

	assert.ElementsMatch(t, []string{"peer-1"}, members.PeersFor(channelID))

	members.RemoveMember(channelID, "peer-1")
	assert.Empty(t, members.PeersFor(channelID))
}
