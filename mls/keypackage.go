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
	"crypto/ecdh"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	pandacrypto "github.com/spacepanda/core/crypto"
)

// KeyPackage is the public, shareable credential a member publishes so
// others can add them to a group: a signing identity plus a one-time
// HPKE init key, bound together by a signature from the signing key.
type KeyPackage struct {
	Identity    string
	SigningPub  ed25519.PublicKey
	InitPub     []byte // X25519 public key bytes
	CipherSuite CipherSuite
	Signature   []byte
}

// KeyPackageBundle is what the provider stores alongside a published
// KeyPackage: the private half of the init key, needed later to accept
// a Welcome sealed to this key package.
type KeyPackageBundle struct {
	Package  KeyPackage
	InitPriv []byte // X25519 private key bytes
}

func (kp KeyPackage) signedBytes() []byte {
	buf := make([]byte, 0, len(kp.Identity)+len(kp.InitPub)+2)
	buf = append(buf, kp.Identity...)
	buf = append(buf, byte(kp.CipherSuite>>8), byte(kp.CipherSuite))
	buf = append(buf, kp.InitPub...)
	return buf
}

// verify checks kp's signature against its own advertised SigningPub.
func (kp KeyPackage) verify() error {
	if kp.CipherSuite != SuiteX25519ChaCha20 {
		return ErrUnsupportedSuite
	}
	if !ed25519.Verify(kp.SigningPub, kp.signedBytes(), kp.Signature) {
		return ErrBadSignature
	}
	return nil
}

// GenerateKeyPackage creates a fresh one-time init key for identity,
// signs it with identity's own key, and stores the resulting bundle in
// provider's storage so a later add_members call against the same
// provider can find it.
func GenerateKeyPackage(identityName string, identity pandacrypto.KeyPair, provider Provider) (KeyPackage, error) {
	signingPub, ok := identity.PublicKey().(ed25519.PublicKey)
	if !ok {
		return KeyPackage{}, wrapErr("generate_key_package", fmt.Errorf("identity key is not Ed25519"))
	}

	initKey, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return KeyPackage{}, wrapErr("generate_key_package", err)
	}

	kp := KeyPackage{
		Identity:    identityName,
		SigningPub:  signingPub,
		InitPub:     initKey.PublicKey().Bytes(),
		CipherSuite: SuiteX25519ChaCha20,
	}
	sig, err := identity.Sign(kp.signedBytes())
	if err != nil {
		return KeyPackage{}, wrapErr("generate_key_package", err)
	}
	kp.Signature = sig

	bundle := KeyPackageBundle{Package: kp, InitPriv: initKey.Bytes()}
	ref := newKeyPackageRef(kp.InitPub)
	if err := provider.StoreKeyPackageBundle(ref, bundle); err != nil {
		return KeyPackage{}, wrapErr("generate_key_package", err)
	}
	return kp, nil
}
