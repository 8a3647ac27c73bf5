package sealedsender

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	exporterSecret := []byte("test-mls-group-exporter-secret-material")
	key, err := DeriveKey(exporterSecret)
	require.NoError(t, err)

	senderID := []byte("device:abc123")
	sealed, err := Seal(key, 7, senderID)
	require.NoError(t, err)

	recovered, err := Unseal(key, 7, sealed)
	require.NoError(t, err)
	assert.Equal(t, senderID, recovered)
}

func TestUnsealRejectsWrongEpoch(t *testing.T) {
	key, err := DeriveKey([]byte("exporter-secret"))
	require.NoError(t, err)

	sealed, err := Seal(key, 1, []byte("sender"))
	require.NoError(t, err)

	_, err = Unseal(key, 2, sealed)
	assert.ErrorIs(t, err, ErrWrongEpoch)
}

func TestUnsealRejectsTamperedCiphertext(t *testing.T) {
	key, err := DeriveKey([]byte("exporter-secret"))
	require.NoError(t, err)

	sealed, err := Seal(key, 1, []byte("sender"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Unseal(key, 1, sealed)
	assert.ErrorIs(t, err, ErrWrongEpoch)
}

func TestDeriveKeyIsDeterministicPerSecret(t *testing.T) {
	k1, err := DeriveKey([]byte("same-secret"))
	require.NoError(t, err)
	k2, err := DeriveKey([]byte("same-secret"))
	require.NoError(t, err)
	assert.Equal(t, k1, k2)

	k3, err := DeriveKey([]byte("different-secret"))
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestSealDiffersAcrossCalls(t *testing.T) {
	key, err := DeriveKey([]byte("exporter-secret"))
	require.NoError(t, err)

	a, err := Seal(key, 1, []byte("sender"))
	require.NoError(t, err)
	b, err := Seal(key, 1, []byte("sender"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce each call")
}
