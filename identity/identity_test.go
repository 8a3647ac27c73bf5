package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAuthority(t *testing.T) (*Authority, *MasterKey) {
	t.Helper()
	master, err := NewMasterKey()
	require.NoError(t, err)
	return NewAuthority(master), master
}

func TestDeviceBindingHappyPath(t *testing.T) {
	authority, master := newTestAuthority(t)

	device, err := NewDeviceKey()
	require.NoError(t, err)

	challenge, err := authority.IssueChallenge(device.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, device.ID(), challenge.DeviceID)

	pop, err := device.Prove(challenge)
	require.NoError(t, err)

	cert, err := authority.ValidateProofOfPossession(pop)
	require.NoError(t, err)
	assert.Equal(t, device.ID(), cert.DeviceID)
	assert.Equal(t, []byte(device.PublicKey()), []byte(cert.DevicePub))

	require.NoError(t, cert.Verify(master.PublicKey()))
}

func TestDeviceBindingRejectsExpiredChallenge(t *testing.T) {
	authority, _ := newTestAuthority(t)
	device, err := NewDeviceKey()
	require.NoError(t, err)

	challenge, err := authority.IssueChallenge(device.PublicKey())
	require.NoError(t, err)
	challenge.IssuedAt = time.Now().Add(-6 * time.Minute).Unix()

	pop, err := device.Prove(challenge)
	require.NoError(t, err)

	_, err = authority.ValidateProofOfPossession(pop)
	assert.ErrorIs(t, err, ErrChallengeExpired)
}

func TestDeviceBindingRejectsForgedSignature(t *testing.T) {
	authority, _ := newTestAuthority(t)
	device, err := NewDeviceKey()
	require.NoError(t, err)
	impostor, err := NewDeviceKey()
	require.NoError(t, err)

	challenge, err := authority.IssueChallenge(device.PublicKey())
	require.NoError(t, err)

	pop, err := impostor.Prove(challenge)
	require.NoError(t, err)
	// Claim to be the original device while signing with the impostor's key.
	pop.DevicePub = append([]byte(nil), device.PublicKey()...)

	_, err = authority.ValidateProofOfPossession(pop)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDeviceBindingRejectsDeviceIDMismatch(t *testing.T) {
	authority, _ := newTestAuthority(t)
	device, err := NewDeviceKey()
	require.NoError(t, err)
	other, err := NewDeviceKey()
	require.NoError(t, err)

	challenge, err := authority.IssueChallenge(device.PublicKey())
	require.NoError(t, err)

	pop, err := device.Prove(challenge)
	require.NoError(t, err)
	pop.DevicePub = append([]byte(nil), other.PublicKey()...)

	_, err = authority.ValidateProofOfPossession(pop)
	assert.ErrorIs(t, err, ErrDeviceIDMismatch)
}

func TestDeviceBindingRejectsReplayedChallenge(t *testing.T) {
	authority, _ := newTestAuthority(t)
	device, err := NewDeviceKey()
	require.NoError(t, err)

	challenge, err := authority.IssueChallenge(device.PublicKey())
	require.NoError(t, err)

	pop, err := device.Prove(challenge)
	require.NoError(t, err)

	_, err = authority.ValidateProofOfPossession(pop)
	require.NoError(t, err)

	_, err = authority.ValidateProofOfPossession(pop)
	assert.ErrorIs(t, err, ErrChallengeReplayed)
}

func TestDeviceIDIsDeterministic(t *testing.T) {
	device, err := NewDeviceKey()
	require.NoError(t, err)

	assert.Equal(t, DeviceID(device.PublicKey()), DeviceID(device.PublicKey()))
}

func TestMasterKeyFromSeedIsDeterministic(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i)
	}

	m1, err := MasterKeyFromSeed(seed)
	require.NoError(t, err)
	m2, err := MasterKeyFromSeed(seed)
	require.NoError(t, err)

	assert.Equal(t, m1.PublicKey(), m2.PublicKey())
}
