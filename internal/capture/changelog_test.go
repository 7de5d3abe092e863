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

package capture

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/trigsync/internal/nodetest"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func checkChangeLog(t *testing.T, ctx context.Context, changes types.ChangeLog) {
	a := assert.New(t)
	r := require.New(t)

	_, _, ok, err := changes.Bounds(ctx)
	r.NoError(err)
	a.False(ok)

	old := time.Now().Add(-time.Hour).UTC().Truncate(time.Microsecond)
	tx := "tx1"
	var ids []int64
	for i := 0; i < 5; i++ {
		rec := &types.ChangeRecord{
			Table:         "item",
			Event:         types.EventUpdate,
			RowData:       []types.Value{types.V("1"), nil},
			OldData:       []types.Value{types.V("1"), types.V("x")},
			PKData:        []types.Value{types.V("1")},
			Channel:       DefaultChannel,
			TransactionID: &tx,
		}
		if i < 2 {
			rec.CreateTime = old
		}
		id, err := changes.Append(ctx, rec)
		r.NoError(err)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		a.Greater(ids[i], ids[i-1])
	}

	lo, hi, ok, err := changes.Bounds(ctx)
	r.NoError(err)
	a.True(ok)
	a.Equal(ids[0], lo)
	a.Equal(ids[4], hi)

	maxOld, ok, err := changes.MaxIDBefore(ctx, time.Now().Add(-time.Minute))
	r.NoError(err)
	a.True(ok)
	a.Equal(ids[1], maxOld)

	scanned, err := changes.Scan(ctx, ids[0], 2)
	r.NoError(err)
	r.Len(scanned, 2)
	a.Equal(ids[1], scanned[0].SequenceID)
	a.Equal(types.EventUpdate, scanned[0].Event)
	a.Equal([]types.Value{types.V("1"), nil}, scanned[0].RowData)
	a.Equal([]types.Value{types.V("1"), types.V("x")}, scanned[0].OldData)
	a.Equal(&tx, scanned[0].TransactionID)
	a.True(old.Equal(scanned[0].CreateTime))

	inRange, err := changes.IDs(ctx, types.Range{Start: ids[1], End: ids[3]}, 0)
	r.NoError(err)
	a.Equal(ids[1:4], inRange)

	count, err := changes.DeleteRange(ctx, types.Range{Start: ids[0], End: ids[3]}, 2)
	r.NoError(err)
	a.Equal(int64(2), count)
	count, err = changes.DeleteRange(ctx, types.Range{Start: ids[0], End: -ids[0]}, 0)
	r.NoError(err)
	a.Zero(count, "blocked ranges delete nothing")

	remaining, err := changes.IDs(ctx, types.Range{Start: 0, End: ids[4]}, 0)
	r.NoError(err)
	a.Equal(ids[2:], remaining)
}

func TestMemoryLog(t *testing.T) {
	checkChangeLog(t, context.Background(), NewMemoryLog(100))
}

func TestMemoryLogReserve(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()
	changes := NewMemoryLog(1)

	early := changes.Reserve()
	late, err := changes.Append(ctx, &types.ChangeRecord{PKData: []types.Value{types.V("1")}})
	a.NoError(err)
	ids, err := changes.IDs(ctx, types.Range{Start: 1, End: 10}, 0)
	a.NoError(err)
	a.Equal([]int64{late}, ids)

	changes.Insert(early, &types.ChangeRecord{PKData: []types.Value{types.V("2")}})
	ids, err = changes.IDs(ctx, types.Range{Start: 1, End: 10}, 0)
	a.NoError(err)
	a.Equal([]int64{early, late}, ids)
}

func TestChangeLog(t *testing.T) {
	fixture := nodetest.NewFixture(t)
	changes, err := ProvideChangeLog(fixture.Context, fixture.StagingPool, fixture.Staging)
	if !assert.NoError(t, err) {
		return
	}
	checkChangeLog(t, fixture.Context, changes)
}
