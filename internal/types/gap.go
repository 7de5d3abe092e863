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

package types

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// GapStatus is the lifecycle state of a [DataGap].
type GapStatus int

// These are the gap states.
const (
	// GapOpen is a range suspected to be empty because a transaction
	// may yet commit into it.
	GapOpen GapStatus = iota
	// GapConfirmedEmpty is a gap which outlived the grace period.
	GapConfirmedEmpty
	// GapFilled is a gap in which a record was found.
	GapFilled
)

// Code returns the two-letter code that is stored in the gap table.
func (s GapStatus) Code() string {
	switch s {
	case GapOpen:
		return "OK"
	case GapConfirmedEmpty:
		return "GP"
	case GapFilled:
		return "FL"
	default:
		return "??"
	}
}

func (s GapStatus) String() string {
	switch s {
	case GapOpen:
		return "OPEN"
	case GapConfirmedEmpty:
		return "CONFIRMED_EMPTY"
	case GapFilled:
		return "FILLED"
	default:
		return fmt.Sprintf("GapStatus(%d)", int(s))
	}
}

// ParseGapStatus is the inverse of [GapStatus.Code].
func ParseGapStatus(code string) (GapStatus, error) {
	switch code {
	case "OK":
		return GapOpen, nil
	case "GP":
		return GapConfirmedEmpty, nil
	case "FL":
		return GapFilled, nil
	default:
		return 0, errors.Errorf("unknown gap status %q", code)
	}
}

// DataGap is a closed range of sequence ids believed to contain no
// committed [ChangeRecord] yet.
type DataGap struct {
	StartID    int64
	EndID      int64
	Status     GapStatus
	CreateTime time.Time
	LastUpdate time.Time
}

// Contains returns true if the id falls within the gap.
func (g DataGap) Contains(id int64) bool {
	return id >= g.StartID && id <= g.EndID
}

// Overlaps returns true if any part of the gap falls within the range.
func (g DataGap) Overlaps(rng Range) bool {
	return g.StartID <= rng.End && g.EndID >= rng.Start
}

// Range returns the extent of the gap.
func (g DataGap) Range() Range {
	return Range{Start: g.StartID, End: g.EndID}
}

func (g DataGap) String() string {
	return fmt.Sprintf("[%d,%d]", g.StartID, g.EndID)
}

// GapSnapshot is the persisted state of a gap tracker.
type GapSnapshot struct {
	// HighWater is the largest sequence id that has been observed.
	HighWater int64
	// Gaps are the open gaps, sorted by start id.
	Gaps []DataGap
}

// Range is a closed range of sequence ids. A Range whose End is
// negative is the sentinel returned by the purge planner to indicate
// that nothing in the requested range may be deleted.
type Range struct {
	Start int64
	End   int64
}

// Blocked returns true if the Range is the fully-blocked sentinel.
func (r Range) Blocked() bool {
	return r.End < 0
}

// Empty returns true if the range contains no ids.
func (r Range) Empty() bool {
	return r.End < r.Start
}

func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Start, r.End)
}
