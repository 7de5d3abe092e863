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

// Package metrics contains common labels and buckets for the
// process's prometheus metrics.
package metrics

import (
	"math"
	"time"
)

const (
	actionLabel  = "action"
	nodeLabel    = "node"
	outcomeLabel = "outcome"
	statusLabel  = "status"
	tableLabel   = "table"
)

var (
	// LatencyBuckets is a default collection of histogram buckets for
	// latency metrics measured in seconds.
	LatencyBuckets = Buckets(time.Millisecond.Seconds(), time.Minute.Seconds())
	// SizeBuckets are histogram buckets for payload sizes measured in
	// bytes, from 1KiB to 64MiB.
	SizeBuckets = Buckets(1<<10, 1<<26)

	// ActionLabels are applied to lock-specific vector metrics.
	ActionLabels = []string{actionLabel}
	// NodeLabels are applied to metrics which are reported per source
	// node or sequence space.
	NodeLabels = []string{nodeLabel}
	// NodeStatusLabels are applied to per-node batch outcome metrics.
	NodeStatusLabels = []string{nodeLabel, statusLabel}
	// TableLabels are applied to table-specific vector metrics.
	TableLabels = []string{tableLabel}
	// TableOutcomeLabels are applied to per-table row outcome metrics.
	TableOutcomeLabels = []string{tableLabel, outcomeLabel}
)

// Buckets computes histogram buckets which step by base until the
// next power of ten is reached, then step by that power, continuing
// until max is exceeded. The resulting values are rounded to three
// decimal places.
func Buckets(base, max float64) []float64 {
	var ret []float64
	for step := base; ; step *= 10 {
		for i := 1; i <= 9; i++ {
			next := math.Round(float64(i)*step*1000) / 1000
			if next > max {
				return ret
			}
			ret = append(ret, next)
		}
	}
}
