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
	// MLSCommitsApplied counts applied group commits by kind
	// (add, remove, update).
	MLSCommitsApplied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "commits_applied_total",
			Help:      "Total number of MLS group commits applied, by kind",
		},
		[]string{"kind"},
	)

	// MLSCommitRejected counts commits rejected for epoch mismatch or
	// bad sender signature.
	MLSCommitRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "commits_rejected_total",
			Help:      "Total number of MLS commits rejected, by reason",
		},
		[]string{"reason"}, // stale_epoch, bad_signature, unknown_sender
	)

	// MLSCommitDuration tracks commit application latency.
	MLSCommitDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "commit_duration_seconds",
			Help:      "MLS commit application duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	// MLSEpoch is the current epoch of each locally-tracked group,
	// labeled by channel id.
	MLSEpoch = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "group_epoch",
			Help:      "Current epoch of a locally-tracked MLS group",
		},
		[]string{"channel_id"},
	)

	// SealedSenderOperations tracks seal/unseal calls and their outcome.
	SealedSenderOperations = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "mls",
			Name:      "sealed_sender_operations_total",
			Help:      "Total number of sealed sender seal/unseal operations",
		},
		[]string{"operation", "status"}, // seal/unseal, success/failure
	)
)
