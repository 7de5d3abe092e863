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

package gaps

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Detector feeds committed sequence ids from the change log into a
// [Tracker] and persists the result. Only one process should run a
// detection pass at a time, so passes are performed under the ROUTE
// lock.
type Detector struct {
	cfg     *Config
	changes types.ChangeLog
	store   types.GapStore
	tracker *Tracker
	now     func() time.Time
}

// NewDetector constructs a Detector. The Tracker is restored from the
// store at the start of every pass.
func NewDetector(cfg *Config, changes types.ChangeLog, store types.GapStore) *Detector {
	return &Detector{
		cfg:     cfg,
		changes: changes,
		store:   store,
		tracker: NewTracker(cfg, types.GapSnapshot{}),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Tracker returns the Tracker that is updated by the Detector.
func (d *Detector) Tracker() *Tracker {
	return d.tracker
}

// Pass performs a single detection pass. The caller must hold the ROUTE
// lock.
func (d *Detector) Pass(ctx context.Context) error {
	start := time.Now()
	snap, found, err := d.store.Load(ctx, d.cfg.Space)
	if err != nil {
		return errors.Wrap(err, "could not load gaps")
	}
	if !found {
		// Start tracking just below the oldest retained record.
		lo, _, ok, err := d.changes.Bounds(ctx)
		if err != nil {
			return err
		}
		if ok {
			snap.HighWater = lo - 1
		}
	}
	d.tracker.Restore(snap)

	// Look for late commits into the open gaps.
	for _, gap := range d.tracker.ListGaps() {
		ids, err := d.changes.IDs(ctx, gap.Range(), 0)
		if err != nil {
			return err
		}
		for _, id := range ids {
			d.tracker.Observe(id)
		}
	}

	// Look for new ids above the high-water mark.
	hw := d.tracker.HighWater()
	ids, err := d.changes.IDs(ctx, types.Range{Start: hw + 1, End: math.MaxInt64}, d.cfg.ScanLimit)
	if err != nil {
		return err
	}
	for _, id := range ids {
		d.tracker.Observe(id)
	}

	expired := d.tracker.Expire(d.now())

	if err := d.store.Save(ctx, d.cfg.Space, d.tracker.Snapshot(), d.tracker.TakeClosed()); err != nil {
		return errors.Wrap(err, "could not save gaps")
	}
	passDurations.WithLabelValues(d.cfg.Space).Observe(time.Since(start).Seconds())
	log.WithFields(log.Fields{
		"expired":   len(expired),
		"highWater": d.tracker.HighWater(),
		"new":       len(ids),
		"space":     d.cfg.Space,
	}).Trace("gap detection pass complete")
	return nil
}

// Start runs detection passes in the background until the context is
// stopped.
func (d *Detector) Start(ctx *stopper.Context, locks *cluster.Manager) {
	locks.Periodic(ctx, types.ActionRoute, types.LockExclusive, d.cfg.DetectPeriod, d.Pass)
}

// Diagnostic implements [diag.Diagnostic] by reporting the stored
// high-water mark and open gaps.
func (d *Detector) Diagnostic(ctx context.Context) any {
	snap, found, err := d.store.Load(ctx, d.cfg.Space)
	if err != nil {
		return err.Error()
	}
	if !found {
		return nil
	}
	return map[string]any{
		"gaps":      snap.Gaps,
		"highWater": snap.HighWater,
		"space":     d.cfg.Space,
	}
}
