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

// Package purge removes change log records, incoming batch history, and
// gap history which are no longer needed.
package purge

import (
	"sort"

	"github.com/cockroachdb/trigsync/internal/types"
)

// PlanPurge computes the sub-ranges of [lo, hi] which may be deleted
// without touching an id that falls within a gap. Gaps are walked in
// order of their start id, with a cursor that begins at lo:
//
//   - Gaps entirely outside of [lo, hi] are retained and otherwise
//     ignored.
//   - A gap beginning at or before the cursor is at the leading edge of
//     the range. If it ends before hi, the cursor moves past it. Gaps
//     which lie within [lo, hi] are consumed and dropped from the
//     remaining gaps.
//   - A leading-edge gap which reaches hi blocks the entire range. The
//     result is a single sentinel range which starts at lo and whose
//     End is the negated start of the blocking gap. All gaps are
//     retained.
//   - A gap beginning after the cursor ends the safe segment just
//     before its start. It, and all later gaps, are retained. Later
//     calls resume past the gap once it is at the leading edge.
//
// The returned ranges never overlap a gap.
func PlanPurge(lo, hi int64, gaps []types.DataGap) (safe []types.Range, remaining []types.DataGap) {
	sorted := append([]types.DataGap(nil), gaps...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartID < sorted[j].StartID })
	if hi < lo {
		return nil, sorted
	}

	cursor := lo
	for idx, gap := range sorted {
		if gap.EndID < cursor || gap.StartID > hi {
			remaining = append(remaining, gap)
			continue
		}

		if gap.StartID > cursor {
			safe = append(safe, types.Range{Start: cursor, End: gap.StartID - 1})
			return safe, append(remaining, sorted[idx:]...)
		}

		if gap.EndID >= hi {
			return []types.Range{{Start: lo, End: -gap.StartID}}, sorted
		}

		cursor = gap.EndID + 1
		if gap.StartID < lo {
			// Only partially within the range.
			remaining = append(remaining, gap)
		}
	}
	return append(safe, types.Range{Start: cursor, End: hi}), remaining
}
