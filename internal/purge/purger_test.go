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
	"testing"
	"time"

	"github.com/cockroachdb/trigsync/internal/capture"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/gaps"
	"github.com/cockroachdb/trigsync/internal/nodetest"
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type purgeFixture struct {
	batches  *replay.MemoryBatches
	changes  *capture.MemoryLog
	detector *gaps.Detector
	gapCfg   *gaps.Config
	gapStore *gaps.MemoryStore
	locks    *cluster.Manager
	purger   *Purger
}

func newPurgeFixture(t *testing.T) *purgeFixture {
	r := require.New(t)

	cfg := &Config{
		MaxIDsPerDelete: 2,
		Period:          10 * time.Millisecond,
		Retention:       time.Hour,
		RouteWait:       50 * time.Millisecond,
	}
	r.NoError(cfg.Preflight())
	gapCfg := &gaps.Config{GapTimeout: time.Minute, Space: "test"}
	r.NoError(gapCfg.Preflight())

	locks := cluster.NewMemory(&cluster.Config{
		LockTimeout:   time.Second,
		LockWaitRetry: 5 * time.Millisecond,
		ServerID:      "purge-test",
	})
	r.NoError(locks.Init(context.Background()))

	batches := replay.NewMemoryBatches()
	changes := capture.NewMemoryLog(1)
	gapStore := gaps.NewMemoryStore()
	return &purgeFixture{
		batches:  batches,
		changes:  changes,
		detector: gaps.NewDetector(gapCfg, changes, gapStore),
		gapCfg:   gapCfg,
		gapStore: gapStore,
		locks:    locks,
		purger:   New(cfg, gapCfg, batches, changes, gapStore, locks),
	}
}

func (f *purgeFixture) append(t *testing.T, created time.Time) int64 {
	id, err := f.changes.Append(context.Background(), &types.ChangeRecord{
		Table:      "item",
		Event:      types.EventInsert,
		PKData:     []types.Value{types.V("1")},
		CreateTime: created,
	})
	require.NoError(t, err)
	return id
}

func (f *purgeFixture) remaining(t *testing.T) []int64 {
	ids, err := f.changes.IDs(context.Background(), types.Range{Start: 0, End: 1 << 40}, 0)
	require.NoError(t, err)
	return ids
}

func TestPurgeOutgoing(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()
	f := newPurgeFixture(t)
	old := time.Now().Add(-2 * time.Hour).UTC()

	// Nothing has been examined for gaps yet.
	f.append(t, old)
	count, err := f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Zero(count)

	for i := 2; i <= 10; i++ {
		if i == 4 {
			f.changes.Reserve()
			continue
		}
		f.append(t, old)
	}
	r.NoError(f.detector.Pass(ctx))
	a.Equal([]types.Range{{Start: 4, End: 4}}, rangesOf(f.detector.Tracker().ListGaps()))

	// These have not been seen by gap detection, so they are retained
	// even though they are old enough.
	f.append(t, old)
	f.append(t, old)
	// Too recent.
	f.append(t, time.Now().UTC())

	count, err = f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Equal(int64(3), count)
	a.Equal([]int64{5, 6, 7, 8, 9, 10, 11, 12, 13}, f.remaining(t))

	count, err = f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Equal(int64(6), count)
	a.Equal([]int64{11, 12, 13}, f.remaining(t))

	// The open gap is left for gap detection to resolve.
	snap, found, err := f.gapStore.Load(ctx, f.gapCfg.Space)
	r.NoError(err)
	r.True(found)
	a.Equal([]types.Range{{Start: 4, End: 4}}, rangesOf(snap.Gaps))

	// Once detection catches up, the rest may go.
	r.NoError(f.detector.Pass(ctx))
	count, err = f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Equal(int64(2), count)
	a.Equal([]int64{13}, f.remaining(t))
}

func TestPurgeOutgoingBlockedByGap(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()
	f := newPurgeFixture(t)
	old := time.Now().Add(-2 * time.Hour).UTC()

	f.append(t, old)
	f.append(t, old)
	for i := 0; i < 3; i++ {
		f.changes.Reserve()
	}
	f.append(t, time.Now().UTC())
	r.NoError(f.detector.Pass(ctx))
	a.Equal([]types.Range{{Start: 3, End: 5}}, rangesOf(f.detector.Tracker().ListGaps()))

	count, err := f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Equal(int64(2), count)
	a.Equal([]int64{6}, f.remaining(t))

	// A slow transaction commits an old record into the gap. The
	// oldest purgeable id now lies within an open gap.
	f.changes.Insert(4, &types.ChangeRecord{
		Table:      "item",
		Event:      types.EventInsert,
		PKData:     []types.Value{types.V("2")},
		CreateTime: old,
	})
	blockedBefore := nodetest.CounterValue(t, purgeBlocked)
	count, err = f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Zero(count)
	a.Equal([]int64{4, 6}, f.remaining(t))
	a.Equal(blockedBefore+1, nodetest.CounterValue(t, purgeBlocked))

	snap, found, err := f.gapStore.Load(ctx, f.gapCfg.Space)
	r.NoError(err)
	r.True(found)
	a.Equal([]types.Range{{Start: 3, End: 5}}, rangesOf(snap.Gaps))
}

func TestPurgeOutgoingWaitsForRoute(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()
	f := newPurgeFixture(t)
	old := time.Now().Add(-2 * time.Hour).UTC()

	for i := 0; i < 5; i++ {
		f.append(t, old)
	}
	r.NoError(f.detector.Pass(ctx))

	held, err := f.locks.Lock(ctx, types.ActionRoute, types.LockExclusive)
	r.NoError(err)
	r.True(held)

	count, err := f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Zero(count)
	a.Len(f.remaining(t), 5)

	r.NoError(f.locks.Unlock(ctx, types.ActionRoute, types.LockExclusive))
	count, err = f.purger.PurgeOutgoing(ctx)
	r.NoError(err)
	a.Equal(int64(5), count)

	// The purge released the lock.
	held, err = f.locks.Lock(ctx, types.ActionRoute, types.LockExclusive)
	r.NoError(err)
	a.True(held)
}

func TestPurgeIncoming(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()
	f := newPurgeFixture(t)

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	for _, b := range []*types.IncomingBatch{
		{BatchID: 1, NodeID: "n", Status: types.BatchOK, EndTime: old},
		{BatchID: 2, NodeID: "n", Status: types.BatchError, EndTime: old},
		{BatchID: 3, NodeID: "n", Status: types.BatchOK, EndTime: now},
	} {
		r.NoError(f.batches.Put(ctx, b))
	}

	count, err := f.purger.PurgeIncoming(ctx)
	r.NoError(err)
	a.Equal(int64(1), count)

	_, found, err := f.batches.Get(ctx, "n", 2)
	r.NoError(err)
	a.True(found, "failed batches are kept for the operator")
}

func TestPurgeDataGaps(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()
	f := newPurgeFixture(t)

	now := time.Now().UTC()
	r.NoError(f.gapStore.Save(ctx, f.gapCfg.Space, types.GapSnapshot{HighWater: 10}, []types.DataGap{
		{StartID: 2, EndID: 2, Status: types.GapFilled, LastUpdate: now.Add(-48 * time.Hour)},
		{StartID: 5, EndID: 6, Status: types.GapConfirmedEmpty, LastUpdate: now},
	}))

	count, err := f.purger.PurgeDataGaps(ctx)
	r.NoError(err)
	a.Equal(int64(1), count)
	history := f.gapStore.History()
	r.Len(history, 1)
	a.Equal(int64(5), history[0].StartID)
}

func TestPurgerStart(t *testing.T) {
	r := require.New(t)
	ctx := nodetest.Context(t)
	f := newPurgeFixture(t)

	r.NoError(f.batches.Put(ctx, &types.IncomingBatch{
		BatchID: 1,
		NodeID:  "n",
		Status:  types.BatchOK,
		EndTime: time.Now().Add(-48 * time.Hour),
	}))

	f.purger.Start(ctx, f.locks)
	r.Eventually(func() bool {
		_, found, err := f.batches.Get(ctx, "n", 1)
		return err == nil && !found
	}, 5*time.Second, 10*time.Millisecond)
}

func rangesOf(gaps []types.DataGap) []types.Range {
	ret := make([]types.Range, len(gaps))
	for i, gap := range gaps {
		ret[i] = gap.Range()
	}
	return ret
}
