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
	// CRDTMergesApplied counts successful merges, labeled by the CRDT
	// type being merged (or_set, or_map, lww_register, vector_clock).
	CRDTMergesApplied = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "merges_applied_total",
			Help:      "Total number of CRDT merges applied, by CRDT type",
		},
		[]string{"crdt_type"},
	)

	// CRDTMergeRejected counts merges rejected for signature verification
	// failure on the incoming operation.
	CRDTMergeRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "merges_rejected_total",
			Help:      "Total number of CRDT merges rejected, by reason",
		},
		[]string{"reason"}, // bad_signature, unknown_author, stale_clock
	)

	// CRDTMergeDuration tracks merge latency by CRDT type.
	CRDTMergeDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "merge_duration_seconds",
			Help:      "CRDT merge duration in seconds, by CRDT type",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 2, 15),
		},
		[]string{"crdt_type"},
	)

	// StoreSnapshotsTaken counts snapshot operations against the CRDT
	// store's commit log.
	StoreSnapshotsTaken = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "store_snapshots_total",
			Help:      "Total number of store snapshots taken",
		},
	)

	// StoreCommitLogAppends counts entries appended to the encrypted
	// commit log.
	StoreCommitLogAppends = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "store_commit_log_appends_total",
			Help:      "Total number of commit log entries appended",
		},
	)

	// StoreCorruptEntries counts commit-log entries skipped on Load
	// for failing to decrypt or decode.
	StoreCorruptEntries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "store_corrupt_entries_total",
			Help:      "Total number of commit log entries skipped as corrupt on load",
		},
	)

	// StoreCorruptSnapshots counts snapshot records skipped on Load
	// for failing to decrypt or decode.
	StoreCorruptSnapshots = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crdt",
			Name:      "store_corrupt_snapshots_total",
			Help:      "Total number of snapshot records skipped as corrupt on load",
		},
	)
)
