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

package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuckets(t *testing.T) {
	a := assert.New(t)
	expected := []float64{
		0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9,
		1.0, 2.0, 3.0, 4.0, 5.0, 6.0, 7.0, 8.0, 9.0,
		10., 20., 30., 40., 50., 60., 70., 80., 90.,
		100, 200, 300, 400,
	}
	a.Equal(expected, Buckets(0.1, 499))
	a.Empty(Buckets(10, 1))
}

func TestDefaultBuckets(t *testing.T) {
	a := assert.New(t)

	a.Equal(0.001, LatencyBuckets[0])
	a.Equal(60.0, LatencyBuckets[len(LatencyBuckets)-1])

	a.Equal(1024.0, SizeBuckets[0])
	a.LessOrEqual(SizeBuckets[len(SizeBuckets)-1], float64(1<<26))
	for i := 1; i < len(SizeBuckets); i++ {
		a.Greater(SizeBuckets[i], SizeBuckets[i-1])
	}
}
