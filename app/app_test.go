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

package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacepanda/core/channel"
	"github.com/spacepanda/core/config"
	"github.com/spacepanda/core/internal/logger"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir: t.TempDir(),
		KeyStore: &config.KeyStoreConfig{
			Directory: t.TempDir(),
		},
		Store: &config.StoreConfig{
			Backend: "memory",
		},
		Channel: &config.ChannelConfig{
			JitterWindow: time.Millisecond,
		},
	}
}

func noopSender(string, []byte) error { return nil }

func newSoloApp(t *testing.T) *App {
	t.Helper()
	a, err := New(testConfig(t), logger.NewDefaultLogger(), noopSender)
	require.NoError(t, err)
	return a
}

func TestCreateIdentityThenExportImportRoundTrips(t *testing.T) {
	a := newSoloApp(t)
	require.NoError(t, a.CreateIdentity("alice", []byte("correct horse")))
	assert.Equal(t, "alice", a.IdentityName())

	blob, err := a.Export([]byte("export-pass"))
	require.NoError(t, err)

	b := newSoloApp(t)
	require.NoError(t, b.Import("alice-restored", blob, []byte("export-pass")))
	assert.Equal(t, "alice-restored", b.IdentityName())
}

func TestUnlockRejectsWrongPassphrase(t *testing.T) {
	a := newSoloApp(t)
	require.NoError(t, a.CreateIdentity("alice", []byte("correct horse")))

	b := newSoloApp(t)
	b.ks = a.ks
	err := b.Unlock("alice", []byte("wrong passphrase"))
	assert.Error(t, err)
}

func TestOperationsRequireUnlockedIdentity(t *testing.T) {
	a := newSoloApp(t)
	_, err := a.CreateChannel("general", channel.VisibilityPrivate)
	assert.ErrorIs(t, err, ErrLocked)

	_, _, err = a.RegisterDeviceWithProof([]byte("pass"))
	assert.ErrorIs(t, err, ErrLocked)

	_, err = a.ListDevices()
	assert.ErrorIs(t, err, ErrLocked)
}

func TestCreateIdentityRefusesDoubleUnlock(t *testing.T) {
	a := newSoloApp(t)
	require.NoError(t, a.CreateIdentity("alice", []byte("pass")))
	err := a.CreateIdentity("alice-again", []byte("pass"))
	assert.ErrorIs(t, err, ErrAlreadyUnlocked)
}

func TestRegisterDeviceWithProofPersistsAndLists(t *testing.T) {
	a := newSoloApp(t)
	passphrase := []byte("pass")
	require.NoError(t, a.CreateIdentity("alice", passphrase))

	device, cert, err := a.RegisterDeviceWithProof(passphrase)
	require.NoError(t, err)
	require.NotNil(t, device)
	require.NotNil(t, cert)
	assert.Equal(t, device.ID(), cert.DeviceID)

	devices, err := a.ListDevices()
	require.NoError(t, err)
	require.Contains(t, devices, cert.DeviceID)
	require.NoError(t, devices[cert.DeviceID].Verify(a.master.PublicKey()))
}

// pairedApps creates two unlocked Apps whose Network Layers are wired
// directly to each other's HandleInboundFrame, with peer names
// matching each side's identity name (the convention every transport
// fixture in this tree uses when there's no real socket involved).
func pairedApps(t *testing.T) (alice, bob *App) {
	t.Helper()

	var a, b *App
	senderToB := func(peer string, ciphertext []byte) error {
		return b.HandleInboundFrame("alice", ciphertext)
	}
	senderToA := func(peer string, ciphertext []byte) error {
		return a.HandleInboundFrame("bob", ciphertext)
	}

	var err error
	a, err = New(testConfig(t), logger.NewDefaultLogger(), senderToB)
	require.NoError(t, err)
	b, err = New(testConfig(t), logger.NewDefaultLogger(), senderToA)
	require.NoError(t, err)

	require.NoError(t, a.CreateIdentity("alice", []byte("alice-pass")))
	require.NoError(t, b.CreateIdentity("bob", []byte("bob-pass")))

	frame, err := a.InitiateHandshake("bob")
	require.NoError(t, err)
	reply, err := b.HandleHandshakeFrame("alice", frame)
	require.NoError(t, err)
	require.NotNil(t, reply)
	finalReply, err := a.HandleHandshakeFrame("bob", *reply)
	require.NoError(t, err)
	require.Nil(t, finalReply)

	return a, b
}

func TestChannelMessageRoundTripsOverNetworkLayer(t *testing.T) {
	alice, bob := pairedApps(t)

	channelID, err := alice.CreateChannel("general", channel.VisibilityPrivate)
	require.NoError(t, err)

	bobKP, err := bob.GenerateKeyPackage()
	require.NoError(t, err)
	token, err := alice.CreateInvite(channelID, bobKP)
	require.NoError(t, err)
	_, err = bob.JoinChannel(token)
	require.NoError(t, err)

	require.NoError(t, alice.RegisterPeer(channelID, "bob", "bob"))
	require.NoError(t, bob.RegisterPeer(channelID, "alice", "alice"))

	envBytes, err := alice.SendMessage(channelID, []byte("hello bob"))
	require.NoError(t, err)

	// SendMessage's broadcast fires after a random jitter delay, which
	// this round trip has to wait out since app.go does not expose a
	// zero-jitter test seam the way channel_test.go's package-local
	// tests do. Once bob's channel state has marked the envelope seen,
	// feeding the same bytes in manually comes back (nil, nil) — the
	// best-effort-delivery dedup path. If the network-delivered copy has
	// not been processed yet, the first manual feed decrypts the envelope
	// and marks it seen itself, so this loop shows that bob can open and
	// dedupe alice's envelope, not which path delivered it first.
	require.Eventually(t, func() bool {
		plaintext, recvErr := bob.ReceiveEnvelope(channelID, envBytes)
		return recvErr == nil && plaintext == nil
	}, time.Second, 10*time.Millisecond)

	members, err := alice.ListMembers(channelID)
	require.NoError(t, err)
	assert.Equal(t, channel.RoleAdmin, members["alice"])
	assert.Equal(t, channel.RoleMember, members["bob"])
}

func TestSnapshotRestoreAndStats(t *testing.T) {
	a := newSoloApp(t)
	require.NoError(t, a.CreateIdentity("alice", []byte("pass")))

	channelID, err := a.CreateChannel("general", channel.VisibilityPrivate)
	require.NoError(t, err)

	require.NoError(t, a.Snapshot(channelID))
	require.NoError(t, a.Restore(channelID))

	stats, err := a.Stats(channelID)
	require.NoError(t, err)
	assert.Equal(t, StoreStats{}, stats)
}

func TestActivePeersReflectsEstablishedSessions(t *testing.T) {
	alice, _ := pairedApps(t)
	n, err := alice.ActivePeers()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
