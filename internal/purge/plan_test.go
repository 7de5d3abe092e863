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
	"fmt"
	"math/rand"
	"testing"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gap(start, end int64) types.DataGap {
	return types.DataGap{StartID: start, EndID: end, Status: types.GapOpen}
}

func ranges(gaps []types.DataGap) []types.Range {
	var ret []types.Range
	for _, g := range gaps {
		ret = append(ret, g.Range())
	}
	return ret
}

func TestPlanPurge(t *testing.T) {
	tcs := []struct {
		lo, hi    int64
		gaps      []types.DataGap
		safe      []types.Range
		remaining []types.Range
	}{
		// The sequence of calls which purges around a gap.
		{
			1821, 1846,
			[]types.DataGap{gap(1821, 1824), gap(1838, 1838)},
			[]types.Range{{1825, 1837}},
			[]types.Range{{1838, 1838}},
		},
		{
			1838, 1838,
			[]types.DataGap{gap(1838, 1838)},
			[]types.Range{{1838, -1838}},
			[]types.Range{{1838, 1838}},
		},
		{
			1838, 1846,
			[]types.DataGap{gap(1838, 1838)},
			[]types.Range{{1839, 1846}},
			nil,
		},
		// No gaps.
		{1, 10, nil, []types.Range{{1, 10}}, nil},
		// Gaps outside the range are retained.
		{
			10, 20,
			[]types.DataGap{gap(1, 5), gap(25, 30)},
			[]types.Range{{10, 20}},
			[]types.Range{{1, 5}, {25, 30}},
		},
		// Unsorted input.
		{
			10, 20,
			[]types.DataGap{gap(25, 30), gap(1, 5)},
			[]types.Range{{10, 20}},
			[]types.Range{{1, 5}, {25, 30}},
		},
		// A gap which straddles lo is stepped over but retained.
		{
			10, 20,
			[]types.DataGap{gap(8, 12)},
			[]types.Range{{13, 20}},
			[]types.Range{{8, 12}},
		},
		// A gap which straddles hi ends the safe range.
		{
			10, 20,
			[]types.DataGap{gap(15, 25)},
			[]types.Range{{10, 14}},
			[]types.Range{{15, 25}},
		},
		// A leading-edge gap which covers the range blocks it.
		{
			10, 20,
			[]types.DataGap{gap(5, 25)},
			[]types.Range{{10, -5}},
			[]types.Range{{5, 25}},
		},
		// A blocking gap behind a consumed leading-edge gap still
		// blocks from lo.
		{
			10, 20,
			[]types.DataGap{gap(10, 11), gap(12, 25)},
			[]types.Range{{10, -12}},
			[]types.Range{{10, 11}, {12, 25}},
		},
		// Adjacent leading-edge gaps are consumed.
		{
			10, 20,
			[]types.DataGap{gap(10, 11), gap(12, 12), gap(16, 16)},
			[]types.Range{{13, 15}},
			[]types.Range{{16, 16}},
		},
		// Inverted range.
		{20, 10, []types.DataGap{gap(12, 12)}, nil, []types.Range{{12, 12}}},
	}

	for idx, tc := range tcs {
		t.Run(fmt.Sprintf("%d", idx), func(t *testing.T) {
			a := assert.New(t)
			safe, remaining := PlanPurge(tc.lo, tc.hi, tc.gaps)
			a.Equal(tc.safe, safe)
			a.Equal(tc.remaining, ranges(remaining))
		})
	}
}

// Repeatedly purging from the oldest remaining id eventually releases
// every id outside of a gap, and never releases an id inside one.
func TestPlanPurgeSafety(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	for iter := 0; iter < 500; iter++ {
		r := require.New(t)

		var gaps []types.DataGap
		for next := int64(1 + rnd.Intn(5)); next < 200; {
			end := next + int64(rnd.Intn(3))
			gaps = append(gaps, gap(next, end))
			next = end + 2 + int64(rnd.Intn(20))
		}
		original := append([]types.DataGap(nil), gaps...)
		inGap := func(id int64) bool {
			for _, g := range original {
				if g.Contains(id) {
					return true
				}
			}
			return false
		}

		lo, hi := int64(1), int64(200)
		released := make(map[int64]bool)
		for attempt := 0; lo <= hi && attempt < 1000; attempt++ {
			safe, remaining := PlanPurge(lo, hi, gaps)
			r.NotEmpty(safe)
			for _, rng := range safe {
				if rng.Blocked() {
					continue
				}
				for id := rng.Start; id <= rng.End; id++ {
					r.False(inGap(id), "released %d from gap", id)
					released[id] = true
				}
			}
			for _, g := range remaining {
				for _, s := range safe {
					r.False(!s.Blocked() && g.Overlaps(s))
				}
			}
			// Resume above whatever has been released, or past the
			// blocking gap.
			last := safe[len(safe)-1]
			if last.Blocked() {
				break
			}
			lo = last.End + 1
			gaps = remaining
		}
		for id := int64(1); id <= hi; id++ {
			if !inGap(id) && id < lo {
				r.True(released[id], "id %d was never released", id)
			}
		}
	}
}
