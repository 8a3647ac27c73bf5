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

package identity

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/spacepanda/core/config"
)

// BindDeviceWithoutPoP mints a binding certificate directly, skipping
// the challenge/response round trip entirely. It exists only for test
// fixtures that need a bound device without driving the full protocol
// and refuses to run whenever config reports a production environment.
//
// Deprecated: real devices must go through Authority.IssueChallenge /
// ValidateProofOfPossession.
func (a *Authority) BindDeviceWithoutPoP(devicePub ed25519.PublicKey) (*BindingCertificate, error) {
	if config.IsProduction() {
		return nil, fmt.Errorf("identity: BindDeviceWithoutPoP is disabled in production builds")
	}

	cert := BindingCertificate{
		DevicePub: append(ed25519.PublicKey(nil), devicePub...),
		DeviceID:  DeviceID(devicePub),
		IssuedAt:  time.Now().Unix(),
	}
	sig, err := a.master.kp.Sign(cert.signedBytes())
	if err != nil {
		return nil, fmt.Errorf("identity: sign bypass binding certificate: %w", err)
	}
	cert.Signature = sig
	return &cert, nil
}
