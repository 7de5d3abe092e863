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

// Package gaps tracks ranges of sequence ids which were allocated but
// have not been observed in the change log.
package gaps

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/field-eng-powertools/notify"
	"github.com/cockroachdb/trigsync/internal/types"
	log "github.com/sirupsen/logrus"
)

// Tracker maintains the open gaps of one sequence space. Observing ids
// only narrows existing gaps or opens new ones above the high-water
// mark, so the Tracker never reports a gap containing an observed id.
// It is safe for concurrent use.
type Tracker struct {
	cfg   *Config
	space string
	now   func() time.Time

	mu struct {
		sync.RWMutex
		closed []types.DataGap // Filled or expired since the last TakeClosed.
		gaps   []types.DataGap // Sorted by StartID, non-overlapping.
		hw     int64
	}

	// Updated whenever the open gaps or high-water mark change.
	snapshot notify.Var[types.GapSnapshot]
}

// NewTracker constructs a Tracker seeded with a saved state.
func NewTracker(cfg *Config, snap types.GapSnapshot) *Tracker {
	ret := &Tracker{
		cfg:   cfg,
		space: cfg.Space,
		now:   func() time.Time { return time.Now().UTC() },
	}
	ret.Restore(snap)
	return ret
}

// Expire removes gaps which have been open for longer than the
// configured timeout. The removed gaps are returned in the confirmed
// empty state.
func (t *Tracker) Expire(now time.Time) []types.DataGap {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []types.DataGap
	kept := t.mu.gaps[:0]
	for _, gap := range t.mu.gaps {
		if gap.CreateTime.Add(t.cfg.GapTimeout).After(now) {
			kept = append(kept, gap)
			continue
		}
		gap.Status = types.GapConfirmedEmpty
		gap.LastUpdate = now
		expired = append(expired, gap)
		log.WithFields(log.Fields{
			"gap":   gap,
			"space": t.space,
		}).Debug("gap expired")
	}
	if len(expired) == 0 {
		return nil
	}
	t.mu.gaps = kept
	t.mu.closed = append(t.mu.closed, expired...)
	gapsExpired.WithLabelValues(t.space).Add(float64(len(expired)))
	t.publishLocked()
	return expired
}

// Forget removes gaps which a purge has consumed. Gaps which have since
// been narrowed by Observe are left in place.
func (t *Tracker) Forget(consumed []types.DataGap) {
	if len(consumed) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	drop := make(map[types.Range]struct{}, len(consumed))
	for _, gap := range consumed {
		drop[gap.Range()] = struct{}{}
	}
	kept := t.mu.gaps[:0]
	for _, gap := range t.mu.gaps {
		if _, found := drop[gap.Range()]; !found {
			kept = append(kept, gap)
			continue
		}
		gap.Status = types.GapConfirmedEmpty
		gap.LastUpdate = now
		t.mu.closed = append(t.mu.closed, gap)
	}
	t.mu.gaps = kept
	t.publishLocked()
}

// HasGapsInRange returns true if any open gap overlaps the range.
func (t *Tracker) HasGapsInRange(rng types.Range) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, gap := range t.mu.gaps {
		if gap.Overlaps(rng) {
			return true
		}
	}
	return false
}

// HighWater returns the largest id that has been observed.
func (t *Tracker) HighWater() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.mu.hw
}

// ListGaps returns a copy of the open gaps, sorted by start id.
func (t *Tracker) ListGaps() []types.DataGap {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]types.DataGap(nil), t.mu.gaps...)
}

// Observe records that the id has been committed. An id more than one
// past the high-water mark opens a gap covering the skipped ids. An id
// inside an open gap fills that position, splitting the gap. Any other
// id is ignored.
func (t *Tracker) Observe(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if id > t.mu.hw {
		if id > t.mu.hw+1 {
			gap := types.DataGap{
				StartID:    t.mu.hw + 1,
				EndID:      id - 1,
				Status:     types.GapOpen,
				CreateTime: now,
				LastUpdate: now,
			}
			if size := gap.EndID - gap.StartID + 1; size > t.cfg.MaxGapSize {
				log.WithFields(log.Fields{
					"gap":   gap,
					"size":  size,
					"space": t.space,
				}).Warn("unusually large gap in sequence ids")
			}
			t.mu.gaps = append(t.mu.gaps, gap)
			gapsOpened.WithLabelValues(t.space).Inc()
		}
		t.mu.hw = id
		t.publishLocked()
		return
	}

	idx := sort.Search(len(t.mu.gaps), func(i int) bool { return t.mu.gaps[i].EndID >= id })
	if idx == len(t.mu.gaps) || !t.mu.gaps[idx].Contains(id) {
		return
	}
	gap := t.mu.gaps[idx]

	filled := gap
	filled.Status = types.GapFilled
	filled.LastUpdate = now
	t.mu.closed = append(t.mu.closed, filled)
	gapsFilled.WithLabelValues(t.space).Inc()
	log.WithFields(log.Fields{
		"gap":   gap,
		"id":    id,
		"space": t.space,
	}).Debug("gap filled")

	// The remainders keep the original creation time, so that they
	// expire on the same schedule.
	var pieces []types.DataGap
	if id > gap.StartID {
		lower := gap
		lower.EndID = id - 1
		lower.LastUpdate = now
		pieces = append(pieces, lower)
	}
	if id < gap.EndID {
		upper := gap
		upper.StartID = id + 1
		upper.LastUpdate = now
		pieces = append(pieces, upper)
	}
	next := make([]types.DataGap, 0, len(t.mu.gaps)+1)
	next = append(next, t.mu.gaps[:idx]...)
	next = append(next, pieces...)
	next = append(next, t.mu.gaps[idx+1:]...)
	t.mu.gaps = next
	t.publishLocked()
}

// Restore replaces the state of the Tracker.
func (t *Tracker) Restore(snap types.GapSnapshot) {
	t.mu.Lock()
	defer t.mu.Unlock()
	gaps := append([]types.DataGap(nil), snap.Gaps...)
	sort.Slice(gaps, func(i, j int) bool { return gaps[i].StartID < gaps[j].StartID })
	t.mu.gaps = gaps
	t.mu.hw = snap.HighWater
	t.mu.closed = nil
	t.publishLocked()
}

// Snapshot returns the current state of the Tracker.
func (t *Tracker) Snapshot() types.GapSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

// TakeClosed returns the gaps which have been filled or expired since
// the previous call.
func (t *Tracker) TakeClosed() []types.DataGap {
	t.mu.Lock()
	defer t.mu.Unlock()
	ret := t.mu.closed
	t.mu.closed = nil
	return ret
}

// Watch returns a variable which is updated when the Tracker changes.
func (t *Tracker) Watch() *notify.Var[types.GapSnapshot] {
	return &t.snapshot
}

func (t *Tracker) publishLocked() {
	snap := t.snapshotLocked()
	openGaps.WithLabelValues(t.space).Set(float64(len(snap.Gaps)))
	highWater.WithLabelValues(t.space).Set(float64(snap.HighWater))
	t.snapshot.Set(snap)
}

func (t *Tracker) snapshotLocked() types.GapSnapshot {
	return types.GapSnapshot{
		HighWater: t.mu.hw,
		Gaps:      append([]types.DataGap(nil), t.mu.gaps...),
	}
}
