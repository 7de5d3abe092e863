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

package replay

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchBytes = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_batch_bytes",
		Help:    "the size of each batch which was loaded",
		Buckets: metrics.SizeBuckets,
	}, metrics.NodeLabels)
	batchDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "replay_batch_duration_seconds",
		Help:    "the length of time it took to load a batch",
		Buckets: metrics.LatencyBuckets,
	}, metrics.NodeLabels)
	batchOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_batches_total",
		Help: "the number of batches loaded, by outcome",
	}, metrics.NodeStatusLabels)
	batchRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_batch_recoveries_total",
		Help: "the number of committed batches whose status was recovered from the target",
	}, metrics.NodeLabels)
	batchSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_batch_skips_total",
		Help: "the number of redelivered batches which had already been loaded",
	}, metrics.NodeLabels)
	parseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "replay_parse_errors_total",
		Help: "the number of deliveries rejected as malformed",
	})
	rowOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "replay_rows_total",
		Help: "the number of rows applied, by outcome",
	}, metrics.TableOutcomeLabels)
)

// Row outcome labels.
const (
	outcomeApplied        = "applied"
	outcomeFallbackInsert = "fallback_insert"
	outcomeFallbackUpdate = "fallback_update"
	outcomeIgnored        = "ignored"
	outcomeMissingDelete  = "missing_delete"
	outcomeRecorded       = "recorded"
)
