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
	"context"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/gaps"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Purger deletes data which has outlived its retention period.
type Purger struct {
	cfg      *Config
	gapCfg   *gaps.Config
	batches  types.IncomingBatches
	changes  types.ChangeLog
	gapStore types.GapStore
	locks    types.Locks
	now      func() time.Time
}

// New constructs a Purger.
func New(
	cfg *Config,
	gapCfg *gaps.Config,
	batches types.IncomingBatches,
	changes types.ChangeLog,
	gapStore types.GapStore,
	locks types.Locks,
) *Purger {
	return &Purger{
		cfg:      cfg,
		gapCfg:   gapCfg,
		batches:  batches,
		changes:  changes,
		gapStore: gapStore,
		locks:    locks,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// PurgeOutgoing deletes change log records older than the retention
// period, skipping over any ids which fall within an open gap. Gaps
// consumed by the purge are closed. It returns the number of records
// deleted. The ROUTE lock is taken so that gap detection does not run
// concurrently.
func (p *Purger) PurgeOutgoing(ctx context.Context) (int64, error) {
	start := time.Now()
	hi, ok, err := p.changes.MaxIDBefore(ctx, p.now().Add(-p.cfg.Retention))
	if err != nil || !ok {
		return 0, err
	}
	lo, _, ok, err := p.changes.Bounds(ctx)
	if err != nil || !ok {
		return 0, err
	}

	locked, err := p.locks.LockWait(ctx, types.ActionRoute, types.LockExclusive, p.cfg.RouteWait)
	if err != nil {
		return 0, err
	}
	if !locked {
		log.Debug("gap detection is running; deferring change log purge")
		return 0, nil
	}
	defer func() {
		if err := p.locks.Unlock(context.WithoutCancel(ctx), types.ActionRoute, types.LockExclusive); err != nil {
			log.WithError(err).Warn("could not release route lock")
		}
	}()

	snap, found, err := p.gapStore.Load(ctx, p.gapCfg.Space)
	if err != nil {
		return 0, err
	}
	if !found {
		log.Debug("gap detection has not run; deferring change log purge")
		return 0, nil
	}
	// Ids above the high-water mark have not been examined for gaps.
	if hi > snap.HighWater {
		hi = snap.HighWater
	}

	safe, remaining := PlanPurge(lo, hi, snap.Gaps)
	var deleted int64
	for _, rng := range safe {
		if rng.Blocked() {
			log.WithFields(log.Fields{
				"blockedAt": -rng.End,
				"from":      rng.Start,
			}).Debug("change log purge is blocked by a gap")
			purgeBlocked.Inc()
			continue
		}
		count, err := p.deleteRange(ctx, rng)
		deleted += count
		if err != nil {
			return deleted, err
		}
	}

	tracker := gaps.NewTracker(p.gapCfg, snap)
	tracker.Forget(consumed(snap.Gaps, remaining))
	if err := p.gapStore.Save(ctx, p.gapCfg.Space, tracker.Snapshot(), tracker.TakeClosed()); err != nil {
		return deleted, errors.Wrap(err, "could not save gaps after purge")
	}

	purgeDurations.WithLabelValues(types.ActionPurgeOutgoing).Observe(time.Since(start).Seconds())
	purgedRows.WithLabelValues(types.ActionPurgeOutgoing).Add(float64(deleted))
	log.WithFields(log.Fields{
		"deleted": deleted,
		"range":   types.Range{Start: lo, End: hi},
	}).Debug("purged change log")
	return deleted, nil
}

// deleteRange deletes the range in chunks.
func (p *Purger) deleteRange(ctx context.Context, rng types.Range) (int64, error) {
	var total int64
	for {
		count, err := p.changes.DeleteRange(ctx, rng, p.cfg.MaxIDsPerDelete)
		total += count
		if err != nil {
			return total, errors.Wrapf(err, "could not purge %s", rng)
		}
		if count < int64(p.cfg.MaxIDsPerDelete) {
			return total, nil
		}
	}
}

// PurgeIncoming deletes the history of successfully loaded batches.
func (p *Purger) PurgeIncoming(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := p.batches.DeleteBefore(ctx, p.now().Add(-p.cfg.IncomingRetention))
	if err != nil {
		return 0, errors.Wrap(err, "could not purge incoming batches")
	}
	purgeDurations.WithLabelValues(types.ActionPurgeIncoming).Observe(time.Since(start).Seconds())
	purgedRows.WithLabelValues(types.ActionPurgeIncoming).Add(float64(count))
	return count, nil
}

// PurgeDataGaps deletes the history of closed gaps.
func (p *Purger) PurgeDataGaps(ctx context.Context) (int64, error) {
	start := time.Now()
	count, err := p.gapStore.DeleteHistory(ctx, p.now().Add(-p.cfg.GapRetention))
	if err != nil {
		return 0, errors.Wrap(err, "could not purge gap history")
	}
	purgeDurations.WithLabelValues(types.ActionPurgeDataGaps).Observe(time.Since(start).Seconds())
	purgedRows.WithLabelValues(types.ActionPurgeDataGaps).Add(float64(count))
	return count, nil
}

// Start runs each purge job periodically under its own lock.
func (p *Purger) Start(ctx *stopper.Context, locks *cluster.Manager) {
	jobs := map[string]func(context.Context) (int64, error){
		types.ActionPurgeDataGaps: p.PurgeDataGaps,
		types.ActionPurgeIncoming: p.PurgeIncoming,
		types.ActionPurgeOutgoing: p.PurgeOutgoing,
	}
	for action, job := range jobs {
		job := job
		locks.Periodic(ctx, action, types.LockExclusive, p.cfg.Period,
			func(ctx context.Context) error {
				_, err := job(ctx)
				return err
			})
	}
}

// consumed returns the gaps which are not in remaining.
func consumed(before, remaining []types.DataGap) []types.DataGap {
	kept := make(map[types.Range]struct{}, len(remaining))
	for _, gap := range remaining {
		kept[gap.Range()] = struct{}{}
	}
	var ret []types.DataGap
	for _, gap := range before {
		if _, ok := kept[gap.Range()]; !ok {
			ret = append(ret, gap)
		}
	}
	return ret
}
