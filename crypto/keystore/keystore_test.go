package keystore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExportImportRoundTripEncrypted(t *testing.T) {
	state := []byte(`{"master_key":"deadbeef","devices":[]}`)
	passphrase := []byte("correct horse battery staple")

	container, err := Export(state, passphrase)
	require.NoError(t, err)
	assert.True(t, len(container) > magicSize+versionSize+saltSize+nonceSize)
	assert.Equal(t, MagicEncrypted, string(container[:magicSize]))

	recovered, err := Import(container, passphrase)
	require.NoError(t, err)
	assert.Equal(t, state, recovered)
}

func TestExportImportRoundTripRaw(t *testing.T) {
	state := []byte("unencrypted test state")

	container, err := Export(state, nil)
	require.NoError(t, err)
	assert.Equal(t, MagicRaw, string(container[:magicSize]))

	recovered, err := Import(container, nil)
	require.NoError(t, err)
	assert.Equal(t, state, recovered)
}

func TestImportWrongPassphraseReturnsAuthFailure(t *testing.T) {
	container, err := Export([]byte("secret"), []byte("right"))
	require.NoError(t, err)

	_, err = Import(container, []byte("wrong"))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestImportMissingPassphraseReturnsAuthFailure(t *testing.T) {
	container, err := Export([]byte("secret"), []byte("pass"))
	require.NoError(t, err)

	_, err = Import(container, nil)
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestImportTamperedCiphertextReturnsAuthFailure(t *testing.T) {
	container, err := Export([]byte("secret state"), []byte("pass"))
	require.NoError(t, err)

	tampered := make([]byte, len(container))
	copy(tampered, container)
	tampered[len(tampered)-1] ^= 0xFF

	_, err = Import(tampered, []byte("pass"))
	assert.ErrorIs(t, err, ErrAuthFailure)
}

func TestImportBadMagic(t *testing.T) {
	_, err := Import([]byte("GARBAGE!random bytes here"), []byte("pass"))
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestImportUnsupportedVersion(t *testing.T) {
	container, err := Export([]byte("secret"), []byte("pass"))
	require.NoError(t, err)

	tampered := make([]byte, len(container))
	copy(tampered, container)
	tampered[magicSize] = 0x02

	_, err = Import(tampered, []byte("pass"))
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestImportTruncated(t *testing.T) {
	_, err := Import([]byte("SPKS0001"), []byte("pass"))
	assert.ErrorIs(t, err, ErrTruncated)

	_, err = Import([]byte("SPK"), nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestExportNonceUniqueness(t *testing.T) {
	state := []byte("same state every time")
	passphrase := []byte("pass")

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		container, err := Export(state, passphrase)
		require.NoError(t, err)

		nonce := string(container[magicSize+versionSize+saltSize : magicSize+versionSize+saltSize+nonceSize])
		assert.False(t, seen[nonce], "nonce collision detected")
		seen[nonce] = true

		// Encrypting the same state twice must not yield the same ciphertext.
		other, err := Export(state, passphrase)
		require.NoError(t, err)
		assert.NotEqual(t, container, other)
	}
}
