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

package capture

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	captureLabels    = []string{"table", "event"}
	captureDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "capture_append_duration_seconds",
		Help:    "the length of time it took to append a record to the change log",
		Buckets: metrics.LatencyBuckets,
	}, captureLabels)
	captureRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_records_total",
		Help: "the number of records appended to the change log",
	}, captureLabels)
	suppressedUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "capture_suppressed_updates_total",
		Help: "the number of updates which changed no column and were not captured",
	}, metrics.TableLabels)
	changeLogDeletes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "capture_changelog_deleted_total",
		Help: "the number of change log records that have been deleted",
	})
)
