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

package replay

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/nodetest"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/stdpool"
	"github.com/cockroachdb/trigsync/internal/util/stmtcache"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const itemSchema = `CREATE TABLE item (
  id   INTEGER PRIMARY KEY,
  name TEXT,
  d    TEXT CHECK (julianday(d) IS NOT NULL)
)`

type fixture struct {
	ctx     *stopper.Context
	batches *MemoryBatches
	cfg     *Config
	engine  *Engine
	target  *types.TargetPool
}

// newFixture opens a file-backed SQLite database, since batches are
// applied on one connection while statements are prepared on another.
func newFixture(t *testing.T, conflicts *Conflicts, locks types.Locks, lockAction string) *fixture {
	r := require.New(t)
	ctx := nodetest.Context(t)

	path := filepath.ToSlash(filepath.Join(t.TempDir(), "target.db"))
	target, err := stdpool.OpenTarget(ctx,
		"sqlite://"+path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	r.NoError(err)
	_, err = target.ExecContext(ctx, itemSchema)
	r.NoError(err)

	cfg := &Config{Conflicts: conflicts, LockAction: lockAction}
	r.NoError(cfg.Preflight())

	batches := NewMemoryBatches()
	stmts := &types.TargetStatements{Cache: stmtcache.New[string](ctx, target.DB, 32)}
	engine, err := New(ctx, cfg, batches, locks, target, stmts)
	r.NoError(err)

	return &fixture{
		ctx:     ctx,
		batches: batches,
		cfg:     cfg,
		engine:  engine,
		target:  target,
	}
}

func (f *fixture) exec(t *testing.T, q string, args ...any) {
	t.Helper()
	_, err := f.target.ExecContext(f.ctx, q, args...)
	require.NoError(t, err)
}

// row returns the name and date of an item, or false if the item does
// not exist.
func (f *fixture) row(t *testing.T, id int) (name, d string, ok bool) {
	t.Helper()
	err := f.target.QueryRowContext(f.ctx,
		"SELECT name, d FROM item WHERE id = ?", id).Scan(&name, &d)
	if err == sql.ErrNoRows {
		return "", "", false
	}
	require.NoError(t, err)
	return name, d, true
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	var ret int
	require.NoError(t, f.target.QueryRowContext(f.ctx, "SELECT count(*) FROM item").Scan(&ret))
	return ret
}

func (f *fixture) load(t *testing.T, stream string) []*types.IncomingBatch {
	t.Helper()
	ret, err := f.engine.Load(f.ctx, strings.NewReader(stream))
	require.NoError(t, err)
	return ret
}

const header = `{"nodeid":"store-001"}
{"channel":"default"}
`

const itemTable = `{"table":"item","keys":["id"],"columns":["id","name","d"]}
`

// eightStatements contains one update which becomes an insert, two
// inserts which become updates, one clean insert, three deletes of
// missing rows, and an insert with an invalid date.
func eightStatements(lastDate string) string {
	return header + `{"batch":42}
` + itemTable + `{"update":["1","one","2024-01-01"],"pk":["1"]}
{"insert":["2","two","2024-01-02"]}
{"insert":["3","three","2024-01-03"]}
{"insert":["4","four","2024-01-04"]}
{"delete":["10"]}
{"delete":["11"]}
{"delete":["12"]}
{"insert":["5","five","` + lastDate + `"]}
{"commit":42}
`
}

func TestBatchStatistics(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")

	f.exec(t, "INSERT INTO item VALUES (2, 'old two', '2023-01-02'), (3, 'old three', '2023-01-03')")

	stream := eightStatements("not a date")
	batches := f.load(t, stream)
	r.Len(batches, 1)
	batch := batches[0]

	a.Equal(types.BatchError, batch.Status)
	a.Equal(int64(8), batch.StatementCount)
	a.Equal(int64(1), batch.FallbackInsertCount)
	a.Equal(int64(2), batch.FallbackUpdateCount)
	a.Equal(int64(3), batch.MissingDeleteCount)
	a.Equal(int64(8), batch.FailedRowNumber)
	a.Equal("default", batch.Channel)
	a.NotZero(batch.SQLCode)
	a.Contains(batch.SQLMessage, "CHECK")
	a.Equal(int64(len(stream)-len(header)), batch.ByteCount)
	a.False(batch.EndTime.IsZero())

	// The status is persisted.
	stored, found, err := f.batches.Get(f.ctx, "store-001", 42)
	r.NoError(err)
	r.True(found)
	a.Equal(*batch, *stored)

	// The target transaction was rolled back.
	_, _, ok := f.row(t, 1)
	a.False(ok)
	name, _, ok := f.row(t, 2)
	a.True(ok)
	a.Equal("old two", name)
	a.Equal(2, f.count(t))

	// Redelivering the same faulty batch fails deterministically.
	again := f.load(t, stream)
	r.Len(again, 1)
	a.Equal(types.BatchError, again[0].Status)
	a.Equal(int64(8), again[0].FailedRowNumber)
	a.Zero(again[0].SkipCount)

	// Once the data is corrected, the batch applies.
	fixed := f.load(t, eightStatements("2024-01-05"))
	r.Len(fixed, 1)
	a.Equal(types.BatchOK, fixed[0].Status)
	a.Equal(int64(8), fixed[0].StatementCount)
	a.Equal(int64(1), fixed[0].FallbackInsertCount)
	a.Equal(int64(2), fixed[0].FallbackUpdateCount)
	a.Equal(int64(3), fixed[0].MissingDeleteCount)
	a.Zero(fixed[0].FailedRowNumber)
	a.Empty(fixed[0].SQLMessage)
	a.Equal(5, f.count(t))
	name, d, ok := f.row(t, 2)
	a.True(ok)
	a.Equal("two", name)
	a.Equal("2024-01-02", d)
}

func TestRedeliverySkips(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")

	skips := batchSkips.WithLabelValues("store-001")
	skipsBefore := nodetest.CounterValue(t, skips)

	stream := eightStatements("2024-01-05")
	first := f.load(t, stream)
	r.Len(first, 1)
	r.Equal(types.BatchOK, first[0].Status)
	a.Equal(skipsBefore, nodetest.CounterValue(t, skips))

	// Changes made after the load must not be overwritten.
	f.exec(t, "UPDATE item SET name = 'edited' WHERE id = 4")

	for i := 1; i <= 3; i++ {
		again := f.load(t, stream)
		r.Len(again, 1)
		a.Equal(types.BatchOK, again[0].Status)
		a.Equal(int64(i), again[0].SkipCount)
		a.Equal(first[0].StatementCount, again[0].StatementCount)
	}
	a.Equal(skipsBefore+3, nodetest.CounterValue(t, skips))
	name, _, ok := f.row(t, 4)
	a.True(ok)
	a.Equal("edited", name)
	a.Equal(5, f.count(t))
}

// unsavedBatches fails to record the first OK status it is given.
type unsavedBatches struct {
	*MemoryBatches
	failed bool
}

func (b *unsavedBatches) Put(ctx context.Context, batch *types.IncomingBatch) error {
	if batch.Status == types.BatchOK && !b.failed {
		b.failed = true
		return errors.New("staging unavailable")
	}
	return b.MemoryBatches.Put(ctx, batch)
}

func TestCommittedBatchWithUnsavedStatus(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")
	f.engine.batches = &unsavedBatches{MemoryBatches: f.batches}
	recoveries := batchRecoveries.WithLabelValues("store-001")
	recoveriesBefore := nodetest.CounterValue(t, recoveries)

	stream := header + `{"batch":7}
` + itemTable + `{"insert":["1","one","2024-01-01"]}
{"commit":7}
`
	_, err := f.engine.Load(f.ctx, strings.NewReader(stream))
	r.ErrorContains(err, "staging unavailable")
	a.Equal(1, f.count(t))

	stored, found, err := f.batches.Get(f.ctx, "store-001", 7)
	r.NoError(err)
	r.True(found)
	a.Equal(types.BatchLoading, stored.Status)

	// Changes made after the first load must not be overwritten.
	f.exec(t, "UPDATE item SET name = 'edited' WHERE id = 1")

	again := f.load(t, stream)
	r.Len(again, 1)
	a.Equal(types.BatchOK, again[0].Status)
	a.Equal(int64(1), again[0].SkipCount)
	a.Equal(int64(1), again[0].StatementCount)
	a.Zero(again[0].FallbackUpdateCount)
	a.Equal("default", again[0].Channel)
	a.Equal(recoveriesBefore+1, nodetest.CounterValue(t, recoveries))
	name, _, ok := f.row(t, 1)
	a.True(ok)
	a.Equal("edited", name)

	stored, found, err = f.batches.Get(f.ctx, "store-001", 7)
	r.NoError(err)
	r.True(found)
	a.Equal(types.BatchOK, stored.Status)

	// The marker is removed once the status has been saved.
	_, found, err = f.engine.applied.Get(f.ctx, f.target, "store-001", 7)
	r.NoError(err)
	a.False(found)

	// Further redeliveries are skipped through the staging status.
	again = f.load(t, stream)
	r.Len(again, 1)
	a.Equal(int64(2), again[0].SkipCount)
}

func TestManualConflict(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, &Conflicts{
		Nodes: map[string]Policy{"store-001": {Resolve: ResolveManual}},
	}, nil, "")
	f.exec(t, "INSERT INTO item VALUES (2, 'old two', '2023-01-02')")

	batches := f.load(t, header+`{"batch":7}
`+itemTable+`{"insert":["1","one","2024-01-01"]}
{"insert":["2","two","2024-01-02"]}
{"insert":["3","three","2024-01-03"]}
{"commit":7}
`)
	r.Len(batches, 1)
	a.Equal(types.BatchError, batches[0].Status)
	a.Equal(int64(2), batches[0].FailedRowNumber)
	a.Equal(int64(2), batches[0].StatementCount)
	a.Zero(batches[0].FallbackUpdateCount)
	a.Contains(batches[0].SQLMessage, "UNIQUE")
	a.Equal(1, f.count(t))

	// Missing rows are also conflicts.
	batches = f.load(t, header+`{"batch":8}
`+itemTable+`{"update":["9","nine","2024-01-09"]}
{"commit":8}
`)
	r.Len(batches, 1)
	a.Equal(types.BatchError, batches[0].Status)
	a.Equal(int64(1), batches[0].FailedRowNumber)
	a.Contains(batches[0].SQLMessage, "no row matched")

	// Other nodes use the default policy.
	batches = f.load(t, `{"nodeid":"store-002"}
{"batch":7}
`+itemTable+`{"insert":["2","two","2024-01-02"]}
{"commit":7}
`)
	r.Len(batches, 1)
	a.Equal(types.BatchOK, batches[0].Status)
	a.Equal(int64(1), batches[0].FallbackUpdateCount)
}

func TestRecordErrors(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, &Conflicts{
		Default: Policy{Resolve: ResolveManual, OnError: OnErrorRecord},
	}, nil, "")
	f.exec(t, "INSERT INTO item VALUES (2, 'old two', '2023-01-02')")

	batches := f.load(t, header+`{"batch":9}
`+itemTable+`{"insert":["1","one","2024-01-01"]}
{"insert":["2","two","2024-01-02"]}
{"insert":["3","three","bogus"]}
{"insert":["4","four","2024-01-04"]}
{"commit":9}
`)
	r.Len(batches, 1)
	batch := batches[0]
	a.Equal(types.BatchOK, batch.Status)
	a.Equal(int64(4), batch.StatementCount)
	a.Zero(batch.FailedRowNumber)
	a.Equal(3, f.count(t))
	name, _, _ := f.row(t, 2)
	a.Equal("old two", name)

	recorded, err := f.engine.Errors(f.ctx, "store-001", 9)
	r.NoError(err)
	r.Len(recorded, 2)
	a.Equal(int64(2), recorded[0].FailedRowNumber)
	a.Equal(types.ResolveManual, recorded[0].Resolution)
	a.Equal(types.EventInsert, recorded[0].Event)
	a.Equal("item", recorded[0].Table)
	a.Equal([]types.Value{types.V("2"), types.V("two"), types.V("2024-01-02")}, recorded[0].RowData)
	a.Equal(int64(3), recorded[1].FailedRowNumber)
	a.Contains(recorded[1].SQLMessage, "CHECK")
}

func TestIgnoreConflicts(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, &Conflicts{Default: Policy{Resolve: ResolveIgnore}}, nil, "")
	f.exec(t, "INSERT INTO item VALUES (2, 'old two', '2023-01-02')")

	batches := f.load(t, header+`{"batch":3}
`+itemTable+`{"insert":["2","two","2024-01-02"]}
{"update":["5","five","2024-01-05"]}
{"delete":["6"]}
{"commit":3}
`)
	r.Len(batches, 1)
	a.Equal(types.BatchOK, batches[0].Status)
	a.Equal(int64(2), batches[0].IgnoreCount)
	a.Equal(int64(1), batches[0].MissingDeleteCount)
	name, _, _ := f.row(t, 2)
	a.Equal("old two", name)
	a.Equal(1, f.count(t))
}

// An insert which collides with a unique column, rather than the
// primary key, falls back to an update that finds nothing. The second
// failure is not chased.
func TestOneLevelFallback(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")
	f.exec(t, "CREATE TABLE uniq (id INTEGER PRIMARY KEY, name TEXT UNIQUE)")
	f.exec(t, "INSERT INTO uniq VALUES (1, 'a')")

	batches := f.load(t, header+`{"batch":5}
{"table":"uniq","keys":["id"],"columns":["id","name"]}
{"insert":["2","a"]}
{"commit":5}
`)
	r.Len(batches, 1)
	a.Equal(types.BatchError, batches[0].Status)
	a.Equal(int64(1), batches[0].FailedRowNumber)
	a.Zero(batches[0].FallbackUpdateCount)
	a.Contains(batches[0].SQLMessage, "matched no rows")
}

// Inserting a row which already exists converges to the same state as
// updating it.
func TestFallbackConvergence(t *testing.T) {
	r := require.New(t)

	viaInsert := newFixture(t, nil, nil, "")
	viaUpdate := newFixture(t, nil, nil, "")
	for _, f := range []*fixture{viaInsert, viaUpdate} {
		f.exec(t, "INSERT INTO item VALUES (1, 'old', '2023-01-01'), (2, 'old', '2023-01-01')")
	}

	viaInsert.load(t, header+`{"batch":1}
`+itemTable+`{"insert":["1","new","2024-01-01"]}
{"update":["3","three","2024-01-03"]}
{"commit":1}
`)
	viaUpdate.load(t, header+`{"batch":1}
`+itemTable+`{"update":["1","new","2024-01-01"]}
{"insert":["3","three","2024-01-03"]}
{"commit":1}
`)

	for _, id := range []int{1, 2, 3} {
		n1, d1, ok1 := viaInsert.row(t, id)
		n2, d2, ok2 := viaUpdate.row(t, id)
		r.Equal(ok1, ok2, id)
		r.Equal(n1, n2, id)
		r.Equal(d1, d2, id)
	}
}

func TestStructuralErrorPersistsNothing(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")

	_, err := f.engine.Load(f.ctx, strings.NewReader(header+`{"batch":11}
`+itemTable+`{"insert":["1","one","2024-01-01"]}
{"upsert":["2","two","2024-01-02"]}
{"commit":11}
`))
	_, ok := types.IsParseError(err)
	r.True(ok, "%v", err)

	_, found, err := f.batches.Get(f.ctx, "store-001", 11)
	r.NoError(err)
	a.False(found)
	a.Equal(0, f.count(t))

	// A record outside of any batch.
	_, err = f.engine.Load(f.ctx, strings.NewReader(header+itemTable))
	_, ok = types.IsParseError(err)
	a.True(ok)

	// A malformed redelivery leaves the earlier outcome in place.
	stream := eightStatements("not a date")
	f.load(t, stream)
	truncated := strings.TrimSuffix(stream, "{\"commit\":42}\n")
	_, err = f.engine.Load(f.ctx, strings.NewReader(truncated))
	_, ok = types.IsParseError(err)
	a.True(ok)
	stored, found, err := f.batches.Get(f.ctx, "store-001", 42)
	r.NoError(err)
	r.True(found)
	a.Equal(types.BatchError, stored.Status)
	a.Equal(int64(8), stored.FailedRowNumber)
}

func TestLoadStopsAtFirstError(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")

	batches := f.load(t, eightStatements("not a date")+`{"batch":43}
`+itemTable+`{"insert":["100","hundred","2024-01-01"]}
{"commit":43}
`)
	r.Len(batches, 1)
	a.Equal(int64(42), batches[0].BatchID)
	_, found, err := f.batches.Get(f.ctx, "store-001", 43)
	r.NoError(err)
	a.False(found)
}

// Records which carry every target column in order do not need a
// table declaration.
func TestUndeclaredColumns(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	f := newFixture(t, nil, nil, "")
	f.exec(t, "INSERT INTO item VALUES (2, 'old two', '2023-01-02')")

	recs := []*types.ChangeRecord{
		{
			Table:   "item",
			Event:   types.EventInsert,
			RowData: []types.Value{types.V("1"), types.V("one"), types.V("2024-01-01")},
			Channel: "default",
		},
		{
			Table:   "item",
			Event:   types.EventUpdate,
			RowData: []types.Value{types.V("2"), nil, types.V("2024-01-02")},
			OldData: []types.Value{types.V("2"), types.V("old two"), types.V("2023-01-02")},
		},
		{
			Table:  "item",
			Event:  types.EventDelete,
			PKData: []types.Value{types.V("1")},
		},
		{
			Table:  "missing",
			Event:  types.EventDelete,
			PKData: []types.Value{types.V("1")},
		},
	}
	batch, err := f.engine.LoadBatch(f.ctx, "store-003", 1, types.NewSliceIterator(recs))
	r.NoError(err)
	a.Equal(types.BatchError, batch.Status)
	a.Equal(int64(4), batch.FailedRowNumber)
	a.Contains(batch.SQLMessage, "not found")
	a.Equal("default", batch.Channel)

	batch, err = f.engine.LoadBatch(f.ctx, "store-003", 2, types.NewSliceIterator(recs[:3]))
	r.NoError(err)
	a.Equal(types.BatchOK, batch.Status)
	_, _, ok := f.row(t, 1)
	a.False(ok)
	var name sql.NullString
	r.NoError(f.target.QueryRowContext(f.ctx, "SELECT name FROM item WHERE id = 2").Scan(&name))
	a.False(name.Valid)
}

func TestLoadUnderLock(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	locks := cluster.NewMemory(&cluster.Config{
		LockTimeout:   time.Second,
		LockWaitRetry: 10 * time.Millisecond,
		ServerID:      "replay-test",
	})
	r.NoError(locks.Init(context.Background()))
	f := newFixture(t, nil, locks, types.ActionLoad)

	// Another holder keeps the batch from loading.
	held, err := locks.Lock(f.ctx, types.ActionLoad, types.LockExclusive)
	r.NoError(err)
	r.True(held)
	f.cfg.LockTimeout = 50 * time.Millisecond
	_, err = f.engine.Load(f.ctx, strings.NewReader(eightStatements("2024-01-05")))
	a.ErrorContains(err, "timed out")
	r.NoError(locks.Unlock(f.ctx, types.ActionLoad, types.LockExclusive))

	batches := f.load(t, eightStatements("2024-01-05"))
	r.Len(batches, 1)
	a.Equal(types.BatchOK, batches[0].Status)

	all, err := locks.FindLocks(f.ctx)
	r.NoError(err)
	for _, lock := range all {
		if lock.Action == types.ActionLoad {
			a.True(lock.Idle())
			a.Equal("replay-test", lock.LastLockingServerID)
		}
	}
}

func TestConflictsFile(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	c, err := ParseConflicts(strings.NewReader(`
default:
  onError: record
nodes:
  store-001:
    resolve: manual
  store-002:
    resolve: ignore
    onError: halt
`))
	r.NoError(err)
	a.Equal(Policy{Resolve: ResolveFallback, OnError: OnErrorRecord}, c.For("other"))
	a.Equal(Policy{Resolve: ResolveManual, OnError: OnErrorRecord}, c.For("store-001"))
	a.Equal(Policy{Resolve: ResolveIgnore, OnError: OnErrorHalt}, c.For("store-002"))

	empty, err := ParseConflicts(strings.NewReader(""))
	r.NoError(err)
	a.Equal(DefaultPolicy, empty.For("any"))

	var unset *Conflicts
	a.Equal(DefaultPolicy, unset.For("any"))

	_, err = ParseConflicts(strings.NewReader("default:\n  resolve: newest\n"))
	a.ErrorContains(err, "newest")

	_, err = ParseConflicts(strings.NewReader("defaults: {}\n"))
	a.Error(err)
}
