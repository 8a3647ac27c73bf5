// SpacePanda - privacy-first peer-to-peer encrypted group messaging
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

// Package metrics defines the counters, histograms and gauges the core
// emits per spec.md #4.13. The core never serves them over HTTP itself —
// Registry is exported so a host process can mount promhttp.HandlerFor
// against it; the standalone exporter is an external collaborator.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "spacepanda"

// Registry is the package-level collector registry all metrics below
// register against.
var Registry = prometheus.NewRegistry()
