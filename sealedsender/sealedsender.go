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

// Package sealedsender hides the identity of a message's sender from
// anyone outside the group: the sender field is encrypted under a key
// derived from the group's MLS exporter secret, so only a member
// holding that epoch's secret can recover it.
package sealedsender

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// sealedSenderLabel is the HKDF info string binding derived keys to
// this specific use, per spec.md #4.4.
const sealedSenderLabel = "Sealed Sender v1"

const keySize = 32
const nonceSize = 12

// ErrWrongEpoch is returned by Unseal when the ciphertext's AAD
// (the epoch it was sealed under) doesn't match, or the ciphertext
// has been tampered with — AES-GCM cannot distinguish the two.
var ErrWrongEpoch = errors.New("sealedsender: wrong epoch or tampered ciphertext")

// DeriveKey derives the per-group sealed-sender key for one MLS epoch
// from that epoch's group exporter secret. Callers re-derive this on
// every epoch change; the key is never persisted.
func DeriveKey(exporterSecret []byte) ([]byte, error) {
	h := hkdf.New(sha256.New, exporterSecret, nil, []byte(sealedSenderLabel))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, fmt.Errorf("sealedsender: derive key: %w", err)
	}
	return key, nil
}

// Seal encrypts senderID under the sealed-sender key for the given
// epoch. The epoch is bound as AAD: a ciphertext sealed for epoch N
// fails to open under any other epoch.
func Seal(key []byte, epoch uint64, senderID []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("sealedsender: generate nonce: %w", err)
	}

	aad := epochAAD(epoch)
	ciphertext := aead.Seal(nil, nonce, senderID, aad)

	out := make([]byte, 0, len(nonce)+len(ciphertext))
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return out, nil
}

// Unseal recovers the sender identifier sealed by Seal. The caller
// must supply the same epoch the sender used; group membership at
// that epoch is what gives a receiver the right key to call this
// with in the first place.
func Unseal(key []byte, epoch uint64, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize {
		return nil, ErrWrongEpoch
	}
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, epochAAD(epoch))
	if err != nil {
		return nil, ErrWrongEpoch
	}
	return plaintext, nil
}

func epochAAD(epoch uint64) []byte {
	aad := make([]byte, 8)
	binary.BigEndian.PutUint64(aad, epoch)
	return aad
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("sealedsender: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("sealedsender: new gcm: %w", err)
	}
	return aead, nil
}
