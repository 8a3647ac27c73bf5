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
	// NetworkBroadcasts counts every per-peer send broadcast_to_channel
	// attempts, by frame kind (envelope, commit) and outcome (sent,
	// no_session, transport_error).
	NetworkBroadcasts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "broadcasts_total",
			Help:      "Total number of per-peer channel broadcast attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// NetworkInbound counts every on_inbound frame processed, by kind
	// and outcome (routed, decrypt_failed, decode_failed, unknown_channel).
	NetworkInbound = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "inbound_total",
			Help:      "Total number of inbound frames processed by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	// ChannelMembers is the gauge of peers currently registered against
	// at least one channel in the local member registry.
	ChannelMembers = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "channel_members",
			Help:      "Number of distinct peers currently registered in the channel member registry",
		},
	)
)
