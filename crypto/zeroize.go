// Copyright (C) 2025 spacepanda-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package crypto

// ZeroBytes overwrites b with zeros in place. It is the only primitive
// used to release secret material (Ed25519 keypair bytes, derived AEAD
// keys) per spec.md #5's zeroizing-container requirement. Passphrase
// buffers passed to crypto/keystore and store are not zeroed by it or
// by any other code in this module.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Destroyer is implemented by any type holding secret material that
// must be explicitly zeroed before release, since Go has no destructors.
type Destroyer interface {
	Destroy()
}
