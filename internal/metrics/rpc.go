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
	// RPCRequests tracks every admission decision the RPC layer makes,
	// per spec.md #4.13 rpc.requests_total{result}.
	RPCRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "Total number of RPC requests by admission result",
		},
		[]string{"result"}, // allowed, rate_limited, circuit_breaker_open
	)

	// RPCCallDuration is rpc.call_duration_seconds.
	RPCCallDuration = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "call_duration_seconds",
			Help:      "RPC call lifetime in seconds, from send to response or timeout",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to 8.2s
		},
	)

	// OversizedFramesRejected counts frames rejected for exceeding the
	// transport's max frame size before decode is attempted.
	OversizedFramesRejected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "oversized_frames_rejected_total",
			Help:      "Total number of inbound frames rejected for exceeding the max frame size",
		},
	)

	// PendingRPCRequests is the gauge of in-flight requests awaiting a
	// response or timeout.
	PendingRPCRequests = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "pending_rpc_requests",
			Help:      "Number of RPC requests currently awaiting a response or timeout",
		},
	)

	// SeenRequestsCacheSize is the gauge of the bounded LRU tracking
	// request IDs already responded to, for duplicate-response rejection.
	SeenRequestsCacheSize = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "seen_requests_cache_size",
			Help:      "Number of entries currently held in the seen-requests LRU",
		},
	)

	// ActivePeers is the gauge of peers with an established session.
	ActivePeers = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "active_peers",
			Help:      "Number of peers with a currently established session",
		},
	)

	// CircuitBreakerStateTransitions tracks every Closed/Open/HalfOpen
	// transition, labeled by the transition taken.
	CircuitBreakerStateTransitions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "circuit_breaker_state_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"transition"}, // closed_to_open, open_to_half_open, half_open_to_closed, half_open_to_open
	)
)
