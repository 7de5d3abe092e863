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

package cluster

import (
	"github.com/cockroachdb/trigsync/internal/util/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	abandonedLocks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_lock_abandoned_total",
		Help: "the number of abandoned locks cleared at startup",
	}, metrics.ActionLabels)
	jobDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cluster_job_duration_seconds",
		Help:    "the length of time a periodic job held its lock",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ActionLabels)
	jobErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_job_errors_total",
		Help: "the number of periodic job invocations which failed",
	}, metrics.ActionLabels)
	lockAcquired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_lock_acquired_total",
		Help: "the number of times a lock was acquired",
	}, metrics.ActionLabels)
	lockContended = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_lock_contended_total",
		Help: "the number of lock attempts which found the lock held",
	}, metrics.ActionLabels)
	lockReleased = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cluster_lock_released_total",
		Help: "the number of times a lock was released",
	}, metrics.ActionLabels)
	lockWaitDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cluster_lock_wait_duration_seconds",
		Help:    "the length of time spent in LockWait",
		Buckets: metrics.LatencyBuckets,
	}, metrics.ActionLabels)
)
