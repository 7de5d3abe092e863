// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

package gaps

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	gapsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaps_expired_total",
		Help: "the number of gaps which timed out and were confirmed empty",
	}, metrics.NodeLabels)
	gapsFilled = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaps_filled_total",
		Help: "the number of gaps in which a late record was found",
	}, metrics.NodeLabels)
	gapsOpened = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gaps_opened_total",
		Help: "the number of gaps which have been opened",
	}, metrics.NodeLabels)
	highWater = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gaps_high_water",
		Help: "the largest sequence id which has been observed",
	}, metrics.NodeLabels)
	openGaps = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "gaps_open",
		Help: "the number of gaps which are currently open",
	}, metrics.NodeLabels)
	passDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gaps_pass_duration_seconds",
		Help:    "the length of time it took to perform a gap detection pass",
		Buckets: metrics.LatencyBuckets,
	}, metrics.NodeLabels)
)
