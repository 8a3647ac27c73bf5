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

package sealedsender

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PaddingVersion identifies the header layout Pad/Unpad speak. There
// is only one version today; the byte exists so a future layout
// change can be rejected instead of silently misread.
const PaddingVersion byte = 0x01

const paddingHeaderSize = 5 // 1 version byte + 4-byte big-endian original length

// DefaultBuckets are the fixed frame sizes padded payloads round up
// to. Chosen as a power-of-two ladder from a small control frame up
// to a generous message size; callers with different traffic shapes
// may supply their own sorted bucket list to Pad (Unpad reads the
// length from the header and needs no bucket list).
var DefaultBuckets = []int{256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536}

// ErrPayloadTooLarge is returned by Pad when payload plus its header
// exceeds every available bucket.
var ErrPayloadTooLarge = errors.New("sealedsender: payload exceeds largest padding bucket")

// ErrBadPaddingVersion is returned by Unpad when the header's version
// byte doesn't match PaddingVersion.
var ErrBadPaddingVersion = errors.New("sealedsender: unrecognized padding version")

// ErrPaddingTruncated is returned by Unpad when the frame is shorter
// than a header, or the declared original length doesn't fit inside
// the frame.
var ErrPaddingTruncated = errors.New("sealedsender: truncated padded frame")

// Pad frames payload as VERSION(1) || ORIGINAL_LEN(4, big-endian) ||
// payload, zero-filled to the smallest bucket (from buckets, which
// must be sorted ascending) that fits the framed size. Padding never
// touches cryptographic material — it runs before Seal on the plaintext
// sender id, or after Unseal's caller decides to pad other fields.
func Pad(payload []byte, buckets []int) ([]byte, error) {
	framedSize := paddingHeaderSize + len(payload)

	bucket := -1
	for _, b := range buckets {
		if b >= framedSize {
			bucket = b
			break
		}
	}
	if bucket < 0 {
		return nil, ErrPayloadTooLarge
	}

	out := make([]byte, bucket)
	out[0] = PaddingVersion
	binary.BigEndian.PutUint32(out[1:paddingHeaderSize], uint32(len(payload)))
	copy(out[paddingHeaderSize:], payload)
	// out[framedSize:] is already zero from make().
	return out, nil
}

// Unpad reverses Pad: it validates the version, reads the original
// length, and returns the original slice (sharing frame's backing
// array — callers that retain frame past Unpad's return should copy
// if they mutate it).
func Unpad(frame []byte) ([]byte, error) {
	if len(frame) < paddingHeaderSize {
		return nil, ErrPaddingTruncated
	}
	if frame[0] != PaddingVersion {
		return nil, ErrBadPaddingVersion
	}

	n := binary.BigEndian.Uint32(frame[1:paddingHeaderSize])
	end := paddingHeaderSize + int(n)
	if end > len(frame) {
		return nil, ErrPaddingTruncated
	}
	return frame[paddingHeaderSize:end], nil
}

// bucketFor is a small helper exposed for tests that want to assert
// which bucket a given size lands in without padding actual bytes.
func bucketFor(size int, buckets []int) (int, error) {
	for _, b := range buckets {
		if b >= size {
			return b, nil
		}
	}
	return 0, fmt.Errorf("sealedsender: no bucket fits size %d", size)
}
