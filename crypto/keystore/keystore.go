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

// Package keystore implements the AEAD-encrypted key-at-rest container:
// identity material is serialized by the caller, then sealed behind a
// passphrase-derived AES-256-GCM key before it ever touches disk.
package keystore

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	pandacrypto "github.com/spacepanda/core/crypto"
	"golang.org/x/crypto/argon2"
)

// Magic values identifying the on-disk layout. SPKS_RAW carries an
// explicitly unencrypted payload (used for ephemeral/test stores);
// SPKS0001 is the sole encrypted format to date.
const (
	MagicEncrypted = "SPKS0001"
	MagicRaw       = "SPKS_RAW"

	magicSize   = 8
	versionSize = 1
	saltSize    = 16
	nonceSize   = 12

	currentVersion byte = 0x01

	// Argon2id parameters. The memory cost floor (19 MiB) and iteration
	// floor (2) match spec.md's minimum; threads is kept low since this
	// runs on a single unlock call, not a server-side hot path.
	argonTime    uint32 = 2
	argonMemory  uint32 = 19 * 1024
	argonThreads uint8  = 1
	argonKeyLen  uint32 = 32
)

// Errors returned by Import. AuthFailure intentionally collapses wrong
// passphrase and ciphertext corruption into one outcome — spec.md #4.2
// requires the distinction not be exposed to callers.
var (
	ErrBadMagic           = errors.New("keystore: bad magic")
	ErrUnsupportedVersion = errors.New("keystore: unsupported version")
	ErrAuthFailure        = errors.New("keystore: authentication failed")
	ErrTruncated          = errors.New("keystore: truncated data")
)

// Export serializes state into the keystore wire format. A nil
// passphrase produces an unencrypted SPKS_RAW container; otherwise the
// state is sealed under a fresh random salt and nonce with a key
// derived from passphrase via Argon2id.
func Export(state []byte, passphrase []byte) ([]byte, error) {
	if passphrase == nil {
		return append([]byte(MagicRaw), state...), nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("keystore: generate salt: %w", err)
	}

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer pandacrypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("keystore: generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, state, nil)

	buf := bytes.NewBuffer(make([]byte, 0, magicSize+versionSize+saltSize+nonceSize+len(ciphertext)))
	buf.WriteString(MagicEncrypted)
	buf.WriteByte(currentVersion)
	buf.Write(salt)
	buf.Write(nonce)
	buf.Write(ciphertext)
	return buf.Bytes(), nil
}

// Import reverses Export. passphrase must be nil for an SPKS_RAW
// container and non-nil for SPKS0001.
func Import(data []byte, passphrase []byte) ([]byte, error) {
	if len(data) < magicSize {
		return nil, ErrTruncated
	}

	magic := string(data[:magicSize])
	rest := data[magicSize:]

	switch magic {
	case MagicRaw:
		out := make([]byte, len(rest))
		copy(out, rest)
		return out, nil

	case MagicEncrypted:
		return importEncrypted(rest, passphrase)

	default:
		return nil, ErrBadMagic
	}
}

func importEncrypted(rest []byte, passphrase []byte) ([]byte, error) {
	if len(rest) < versionSize+saltSize+nonceSize {
		return nil, ErrTruncated
	}
	if passphrase == nil {
		return nil, ErrAuthFailure
	}

	version := rest[0]
	if version != currentVersion {
		return nil, ErrUnsupportedVersion
	}

	salt := rest[versionSize : versionSize+saltSize]
	nonce := rest[versionSize+saltSize : versionSize+saltSize+nonceSize]
	ciphertext := rest[versionSize+saltSize+nonceSize:]

	key := argon2.IDKey(passphrase, salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	defer pandacrypto.ZeroBytes(key)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("keystore: new cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("keystore: new gcm: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrAuthFailure
	}
	return plaintext, nil
}
