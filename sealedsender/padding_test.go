package sealedsender

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPadUnpadRoundTrip(t *testing.T) {
	payload := []byte("hello sealed sender")
	framed, err := Pad(payload, DefaultBuckets)
	require.NoError(t, err)
	assert.Contains(t, DefaultBuckets, len(framed))

	recovered, err := Unpad(framed)
	require.NoError(t, err)
	assert.Equal(t, payload, recovered)
}

func TestPadChoosesSmallestFittingBucket(t *testing.T) {
	payload := make([]byte, 10)
	framed, err := Pad(payload, DefaultBuckets)
	require.NoError(t, err)
	assert.Len(t, framed, 256)
}

func TestPadZeroFillsTail(t *testing.T) {
	payload := []byte("x")
	framed, err := Pad(payload, DefaultBuckets)
	require.NoError(t, err)

	tail := framed[paddingHeaderSize+len(payload):]
	assert.True(t, bytes.Equal(tail, make([]byte, len(tail))))
}

func TestPadRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, DefaultBuckets[len(DefaultBuckets)-1]+1)
	_, err := Pad(payload, DefaultBuckets)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestUnpadRejectsBadVersion(t *testing.T) {
	framed, err := Pad([]byte("data"), DefaultBuckets)
	require.NoError(t, err)
	framed[0] = 0x99

	_, err = Unpad(framed)
	assert.ErrorIs(t, err, ErrBadPaddingVersion)
}

func TestUnpadRejectsTruncatedFrame(t *testing.T) {
	_, err := Unpad([]byte{0x01, 0x02})
	assert.ErrorIs(t, err, ErrPaddingTruncated)
}

func TestUnpadRejectsInconsistentLength(t *testing.T) {
	framed, err := Pad([]byte("data"), DefaultBuckets)
	require.NoError(t, err)
	// Claim an original length far larger than the frame holds.
	framed[1], framed[2], framed[3], framed[4] = 0xFF, 0xFF, 0xFF, 0xFF

	_, err = Unpad(framed)
	assert.ErrorIs(t, err, ErrPaddingTruncated)
}

func TestBucketForHelper(t *testing.T) {
	b, err := bucketFor(300, DefaultBuckets)
	require.NoError(t, err)
	assert.Equal(t, 512, b)

	_, err = bucketFor(DefaultBuckets[len(DefaultBuckets)-1]+1, DefaultBuckets)
	assert.Error(t, err)
}
