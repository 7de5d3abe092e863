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

package inbox

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fileDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inbox_file_duration_seconds",
		Help:    "the time spent loading one delivered file",
		Buckets: metrics.LatencyBuckets,
	})
	fileErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_file_errors_total",
		Help: "the number of delivered files which could not be read",
	})
	filesLoaded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_files_loaded_total",
		Help: "the number of delivered files whose batches were all loaded",
	})
	pollDurations = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "inbox_poll_duration_seconds",
		Help:    "the time spent in one poll of the inbox",
		Buckets: metrics.LatencyBuckets,
	})
	readRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "inbox_read_retries_total",
		Help: "the number of times reading a delivered file was retried",
	})
)
