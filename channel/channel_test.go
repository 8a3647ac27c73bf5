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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crypto/keys"
	"github.com/spacepanda/core/mls"
	"github.com/spacepanda/core/store"
)

func mustIdentity(t *testing.T) pandacrypto.KeyPair {
	t.Helper()
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	return kp
}

func memoryBackendFactory() func(ChannelID) (store.Backend, error) {
	return func(ChannelID) (store.Backend, error) {
		return store.NewMemoryBackend(), nil
	}
}

// fakeTransport records every broadcast it's handed, synchronized so
// tests can safely poll it from the goroutine SendMessage's jitter
// timer runs on.
type fakeTransport struct {
	mu        sync.Mutex
	envelopes map[ChannelID][][]byte
	commits   map[ChannelID][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		envelopes: make(map[ChannelID][][]byte),
		commits:   make(map[ChannelID][][]byte),
	}
}

func (f *fakeTransport) Broadcast(channelID ChannelID, envelope []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.envelopes[channelID] = append(f.envelopes[channelID], envelope)
	return nil
}

func (f *fakeTransport) BroadcastCommit(channelID ChannelID, commit []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits[channelID] = append(f.commits[channelID], commit)
	return nil
}

func (f *fakeTransport) waitForEnvelope(t *testing.T, channelID ChannelID) []byte {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		f.mu.Lock()
		envs := f.envelopes[channelID]
		f.mu.Unlock()
		if len(envs) > 0 {
			return envs[len(envs)-1]
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for broadcast envelope")
		case <-time.After(time.Millisecond):
		}
	}
}

func (f *fakeTransport) commitsFor(channelID ChannelID) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte{}, f.commits[channelID]...)
}

func noJitter(time.Duration) time.Duration { return 0 }

func newTestManager(t *testing.T, name string, transport Transport) *Manager {
	t.Helper()
	identity := mustIdentity(t)
	m := NewManager(name, identity, name+"-node", []byte("test-passphrase"), memoryBackendFactory(), transport, nil)
	m.jitter = noJitter
	return m
}

func TestCreateChannelMakesCreatorAdmin(t *testing.T) {
	alice := newTestManager(t, "alice", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)

	rt, err := alice.runtime(channelID)
	require.NoError(t, err)
	role, ok := rt.state.roleOf("alice")
	require.True(t, ok)
	assert.Equal(t, RoleAdmin, role)
}

func TestInviteAndJoinChannel(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)

	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)

	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	assert.Equal(t, channelID, token.ChannelID)
	assert.NotEmpty(t, token.RatchetTree)

	joinedID, err := bob.JoinChannel(token)
	require.NoError(t, err)
	assert.Equal(t, channelID, joinedID)

	rt, err := bob.runtime(channelID)
	require.NoError(t, err)
	role, ok := rt.state.roleOf("bob")
	require.True(t, ok)
	assert.Equal(t, RoleMember, role)
}

func TestSendAndReceiveMessageRoundTrips(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	envelope, err := alice.SendMessage(channelID, []byte("hello bob"))
	require.NoError(t, err)

	plaintext, err := bob.ReceiveEnvelope(channelID, envelope)
	require.NoError(t, err)
	assert.Equal(t, "hello bob", string(plaintext))
}

func TestReceiveEnvelopeIsIdempotent(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	envelope, err := alice.SendMessage(channelID, []byte("hi"))
	require.NoError(t, err)

	first, err := bob.ReceiveEnvelope(channelID, envelope)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(first))

	second, err := bob.ReceiveEnvelope(channelID, envelope)
	require.NoError(t, err)
	assert.Nil(t, second)
}

func TestSendMessageRejectsReadOnlyMember(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	// requireRole consults the local runtime's own state, so demoting
	// bob to read-only only needs to land in bob's own copy.
	bobRt, err := bob.runtime(channelID)
	require.NoError(t, err)
	require.NoError(t, bobRt.setRole("bob", RoleReadOnly, bobRt.nextMeta()))

	_, err = bob.SendMessage(channelID, []byte("should fail"))
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestRemoveMemberPreventsFurtherDecryption(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	err = alice.RemoveMember(channelID, "bob")
	require.NoError(t, err)

	envelope, err := alice.SendMessage(channelID, []byte("after removal"))
	require.NoError(t, err)

	_, err = bob.ReceiveEnvelope(channelID, envelope)
	assert.Error(t, err)
}

func TestRemoveMemberRequiresAdmin(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	err = bob.RemoveMember(channelID, "alice")
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestDemoteLastAdminIsRefused(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)

	err = alice.DemoteMember(channelID, "alice")
	assert.ErrorIs(t, err, ErrLastAdmin)
}

func TestSendMessageBroadcastsAfterJitter(t *testing.T) {
	transport := newFakeTransport()
	alice := newTestManager(t, "alice", transport)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)

	envelope, err := alice.SendMessage(channelID, []byte("broadcast me"))
	require.NoError(t, err)

	got := transport.waitForEnvelope(t, channelID)
	assert.Equal(t, envelope, got)
}

func TestProcessCommitAppliesRemoteCommit(t *testing.T) {
	transport := newFakeTransport()
	alice := newTestManager(t, "alice", transport)
	bob := newTestManager(t, "bob", nil)
	carol := newTestManager(t, "carol", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)

	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	bobToken, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(bobToken)
	require.NoError(t, err)

	carolKP, err := carol.GenerateKeyPackage()
	require.NoError(t, err)
	_, err = alice.CreateInvite(channelID, carolKP)
	require.NoError(t, err)

	// Remove carol: alice broadcasts the resulting commit, bob applies
	// it to its own copy of the group via ProcessCommit.
	require.NoError(t, alice.RemoveMember(channelID, "carol"))

	commits := transport.commitsFor(channelID)
	require.Len(t, commits, 1)
	require.NoError(t, bob.ProcessCommit(channelID, commits[0]))

	aliceRt, err := alice.runtime(channelID)
	require.NoError(t, err)
	bobRt, err := bob.runtime(channelID)
	require.NoError(t, err)
	assert.Equal(t, aliceRt.group.CurrentEpoch(), bobRt.group.CurrentEpoch())
}

func TestListMembersAndMemberRole(t *testing.T) {
	alice := newTestManager(t, "alice", nil)
	bob := newTestManager(t, "bob", nil)

	channelID, err := alice.CreateChannel("general", VisibilityPrivate)
	require.NoError(t, err)
	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	members, err := alice.ListMembers(channelID)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, members["alice"])
	assert.Equal(t, RoleMember, members["bob"])

	role, err := alice.MemberRole(channelID, "bob")
	require.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	_, err = alice.MemberRole(channelID, "carol")
	assert.ErrorIs(t, err, mls.ErrNotAMember)
}

func TestGroupIDForIsDeterministic(t *testing.T) {
	id := NewChannelID()
	assert.Equal(t, GroupIDFor(id), GroupIDFor(id))
	assert.Len(t, GroupIDFor(id), 32)
}
