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

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// KeystoreAuthFailures counts AEAD authentication failures while
	// opening a keystore container (wrong passphrase or tampered file).
	KeystoreAuthFailures = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "auth_failures_total",
			Help:      "Total number of keystore AEAD authentication failures",
		},
	)

	// KeystoreUnlockDuration tracks passphrase-to-plaintext latency,
	// dominated by the Argon2id KDF.
	KeystoreUnlockDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "unlock_duration_seconds",
			Help:      "Keystore unlock duration in seconds, dominated by Argon2id KDF cost",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	// DevicePoPFailures counts proof-of-possession challenge/response
	// failures, by kind (expired, invalid_signature, id_mismatch, replayed).
	DevicePoPFailures = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "keystore",
			Name:      "device_pop_failures_total",
			Help:      "Total number of device proof-of-possession failures, by reason",
		},
		[]string{"reason"},
	)
)
