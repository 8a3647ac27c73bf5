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

package mls

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pandacrypto "github.com/spacepanda/core/crypto"
	"github.com/spacepanda/core/crypto/keys"
)

func mustEd25519(t *testing.T) pandacrypto.KeyPair {
	t.Helper()
	kp, err := keys.GenerateEd25519KeyPair()
	require.NoError(t, err)
	return kp
}

func TestCreateGroupStartsAtEpochZero(t *testing.T) {
	alice := mustEd25519(t)
	provider := NewInMemoryProvider()

	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, provider)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), group.CurrentEpoch())
}

func TestAddMembersAdvancesEpochAndMergesImmediately(t *testing.T) {
	alice := mustEd25519(t)
	bob := mustEd25519(t)
	aliceProvider := NewInMemoryProvider()
	bobProvider := NewInMemoryProvider()

	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, aliceProvider)
	require.NoError(t, err)

	bobKP, err := GenerateKeyPackage("bob", bob, bobProvider)
	require.NoError(t, err)

	_, welcome, tree, err := group.AddMembers([]KeyPackage{bobKP})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), group.CurrentEpoch())

	bobGroup, err := JoinFromWelcome(welcome, tree, bob, bobProvider)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), bobGroup.CurrentEpoch())
	assert.Equal(t, group.GroupID(), bobGroup.GroupID())
}

func TestJoinFromWelcomeFailsWithDifferentProviderInstance(t *testing.T) {
	alice := mustEd25519(t)
	bob := mustEd25519(t)
	aliceProvider := NewInMemoryProvider()
	bobProvider := NewInMemoryProvider()
	otherProvider := NewInMemoryProvider() // never saw bob's key package bundle

	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, aliceProvider)
	require.NoError(t, err)

	bobKP, err := GenerateKeyPackage("bob", bob, bobProvider)
	require.NoError(t, err)

	_, welcome, tree, err := group.AddMembers([]KeyPackage{bobKP})
	require.NoError(t, err)

	_, err = JoinFromWelcome(welcome, tree, bob, otherProvider)
	assert.ErrorIs(t, err, ErrNoMatchingKeyPackage)
}

func TestSealAndProcessMessageRoundTrips(t *testing.T) {
	alice := mustEd25519(t)
	provider := NewInMemoryProvider()
	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, provider)
	require.NoError(t, err)

	ciphertext, err := group.SealMessage([]byte("hello group"))
	require.NoError(t, err)

	plaintext, err := group.ProcessMessage(ciphertext)
	require.NoError(t, err)
	assert.Equal(t, "hello group", string(plaintext))
}

func TestProcessMessageRejectsStaleEpoch(t *testing.T) {
	alice := mustEd25519(t)
	bob := mustEd25519(t)
	provider := NewInMemoryProvider()
	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, provider)
	require.NoError(t, err)

	ciphertext, err := group.SealMessage([]byte("before add"))
	require.NoError(t, err)

	bobKP, err := GenerateKeyPackage("bob", bob, provider)
	require.NoError(t, err)
	_, _, _, err = group.AddMembers([]KeyPackage{bobKP})
	require.NoError(t, err)

	_, err = group.ProcessMessage(ciphertext)
	assert.ErrorIs(t, err, ErrStaleEpoch)
}

func TestRemoveMemberRotatesEpochSecretAwayFromRemovedMember(t *testing.T) {
	alice := mustEd25519(t)
	bob := mustEd25519(t)
	aliceProvider := NewInMemoryProvider()
	bobProvider := NewInMemoryProvider()

	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, aliceProvider)
	require.NoError(t, err)
	bobKP, err := GenerateKeyPackage("bob", bob, bobProvider)
	require.NoError(t, err)
	_, welcome, tree, err := group.AddMembers([]KeyPackage{bobKP})
	require.NoError(t, err)

	bobGroup, err := JoinFromWelcome(welcome, tree, bob, bobProvider)
	require.NoError(t, err)

	bobLeaf, ok := group.LeafIndexForIdentity("bob")
	require.True(t, ok)
	_, err = group.RemoveMembers([]uint32{bobLeaf})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), group.CurrentEpoch())

	sealed, err := group.SealMessage([]byte("after removal"))
	require.NoError(t, err)

	_, err = bobGroup.ProcessMessage(sealed)
	assert.Error(t, err) // bob's local epoch (1) never advanced, so this can't even parse as current
}

func TestExportSecretIsDeterministicForSameLabelAndContext(t *testing.T) {
	alice := mustEd25519(t)
	provider := NewInMemoryProvider()
	group, err := CreateGroup([]byte("channel-group-id-aaaaaaaaaaaaaaa"), "alice", alice, SuiteX25519ChaCha20, provider)
	require.NoError(t, err)

	a, err := group.ExportSecret("sealed-sender", []byte("ctx"), 32)
	require.NoError(t, err)
	b, err := group.ExportSecret("sealed-sender", []byte("ctx"), 32)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := group.ExportSecret("other-label", []byte("ctx"), 32)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}
