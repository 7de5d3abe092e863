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

package purge

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	purgeBlocked = promauto.NewCounter(prometheus.CounterOpts{
		Name: "purge_blocked_total",
		Help: "the number of change log purges which were blocked by a gap",
	})
	purgeDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "purge_duration_seconds",
		Help:    "the length of time it took to run a purge job",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ActionLabels)
	purgedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "purge_deleted_rows_total",
		Help: "the number of rows deleted by purge jobs",
	}, metrics.ActionLabels)
)
