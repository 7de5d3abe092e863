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
	"strings"
	"testing"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoBatches = `{"nodeid":"store-001"}
{"channel":"sale"}
{"batch":1}
{"table":"item","keys":["id"],"columns":["id","name"]}
{"tx":"t1"}
{"insert":["1","one"]}
{"old":["2","two"]}
{"update":["2","deux"]}
{"update":["3","trois"],"pk":["30"]}
{"tx":null}
{"delete":["4"]}
{"commit":1}

{"batch":2}
{"table":"other"}
{"insert":[5, null]}
{"commit":2}
`

func TestReader(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)
	ctx := context.Background()

	reader := NewReader(strings.NewReader(twoBatches), 0)

	first, err := reader.NextBatch(ctx)
	r.NoError(err)
	r.NotNil(first)
	a.Equal(int64(1), first.BatchID())
	a.Equal("store-001", first.NodeID())
	a.Equal("sale", first.Channel())

	var recs []*types.ChangeRecord
	for {
		rec, ok, err := first.Next(ctx)
		r.NoError(err)
		if !ok {
			break
		}
		recs = append(recs, rec)
	}
	r.Len(recs, 4)

	a.Equal(types.EventInsert, recs[0].Event)
	a.Equal("item", recs[0].Table)
	a.Equal("sale", recs[0].Channel)
	a.Equal([]types.Value{types.V("1"), types.V("one")}, recs[0].RowData)
	a.Equal([]types.Value{types.V("1")}, recs[0].PKData)
	r.NotNil(recs[0].TransactionID)
	a.Equal("t1", *recs[0].TransactionID)

	// The key of an update is taken from the old row, if present.
	a.Equal(types.EventUpdate, recs[1].Event)
	a.Equal([]types.Value{types.V("2"), types.V("two")}, recs[1].OldData)
	a.Equal([]types.Value{types.V("2")}, recs[1].PKData)

	// An explicit pk wins.
	a.Nil(recs[2].OldData)
	a.Equal([]types.Value{types.V("30")}, recs[2].PKData)

	a.Equal(types.EventDelete, recs[3].Event)
	a.Nil(recs[3].RowData)
	a.Equal([]types.Value{types.V("4")}, recs[3].PKData)
	a.Nil(recs[3].TransactionID)

	cols, keys, ok := first.Columns("item")
	a.True(ok)
	a.Equal([]string{"id", "name"}, cols)
	a.Equal([]string{"id"}, keys)
	header := "{\"nodeid\":\"store-001\"}\n{\"channel\":\"sale\"}\n"
	body := strings.SplitAfter(twoBatches, "{\"commit\":1}\n")[0][len(header):]
	a.Equal(int64(len(body)), first.ByteCount())

	second, err := reader.NextBatch(ctx)
	r.NoError(err)
	r.NotNil(second)
	a.Equal(int64(2), second.BatchID())
	// The envelope carries over.
	a.Equal("store-001", second.NodeID())

	rec, ok, err := second.Next(ctx)
	r.NoError(err)
	r.True(ok)
	a.Equal("other", rec.Table)
	a.Equal([]types.Value{types.V("5"), nil}, rec.RowData)
	a.Nil(rec.PKData)
	_, _, ok = second.Columns("other")
	a.False(ok)

	last, err := reader.NextBatch(ctx)
	r.NoError(err)
	a.Nil(last)
}

func TestReaderSkipsUnreadRecords(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	reader := NewReader(strings.NewReader(twoBatches), 0)
	_, err := reader.NextBatch(ctx)
	r.NoError(err)
	next, err := reader.NextBatch(ctx)
	r.NoError(err)
	r.Equal(int64(2), next.BatchID())
}

func TestReaderStructuralErrors(t *testing.T) {
	tcs := []struct {
		name  string
		input string
		line  int
		msg   string
	}{
		{
			name:  "record outside batch",
			input: `{"insert":["1"]}`,
			line:  1,
			msg:   "outside of a batch",
		},
		{
			name:  "no nodeid",
			input: `{"batch":1}`,
			line:  1,
			msg:   "no nodeid",
		},
		{
			name:  "unknown token",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"upsert\":[\"1\"]}",
			line:  3,
			msg:   `unknown token "upsert"`,
		},
		{
			name:  "malformed json",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":",
			line:  3,
			msg:   "malformed JSON",
		},
		{
			name:  "commit mismatch",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"commit\":2}",
			line:  3,
			msg:   "does not match",
		},
		{
			name:  "not committed",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":\"t\"}",
			line:  3,
			msg:   "not committed",
		},
		{
			name:  "nested batch",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"batch\":2}",
			line:  3,
			msg:   "not committed",
		},
		{
			name:  "row before table",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"insert\":[\"1\"]}",
			line:  3,
			msg:   "before any table",
		},
		{
			name:  "width mismatch",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":\"t\",\"columns\":[\"a\",\"b\"]}\n{\"insert\":[\"1\"]}",
			line:  4,
			msg:   "has 2 columns",
		},
		{
			name:  "bad key",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":\"t\",\"keys\":[\"z\"],\"columns\":[\"a\"]}",
			line:  3,
			msg:   "not a column",
		},
		{
			name:  "bad value",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":\"t\"}\n{\"insert\":[true]}",
			line:  4,
			msg:   "unsupported value",
		},
		{
			name:  "two tokens",
			input: "{\"nodeid\":\"n\"}\n{\"batch\":1}\n{\"table\":\"t\"}\n{\"insert\":[\"1\"],\"delete\":[\"1\"]}",
			line:  4,
			msg:   "both",
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			a := assert.New(t)
			ctx := context.Background()

			reader := NewReader(strings.NewReader(tc.input), 0)
			var err error
			var batch *BatchReader
			if batch, err = reader.NextBatch(ctx); err == nil {
				err = drain(ctx, batch)
			}
			parseErr, ok := types.IsParseError(err)
			if !a.True(ok, "expected a parse error, got %v", err) {
				return
			}
			a.Equal(tc.line, parseErr.Line)
			a.Contains(parseErr.Reason, tc.msg)
		})
	}
}

func TestReaderLineLimit(t *testing.T) {
	a := assert.New(t)
	ctx := context.Background()

	input := `{"nodeid":"` + strings.Repeat("x", 128) + `"}`
	_, err := NewReader(strings.NewReader(input), 64).NextBatch(ctx)
	_, ok := types.IsParseError(err)
	a.True(ok)
}
