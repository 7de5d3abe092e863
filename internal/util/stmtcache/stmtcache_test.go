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

package stmtcache

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestCacheReusesStatements(t *testing.T) {
	r := require.New(t)
	ctx := stopper.WithContext(context.Background())
	defer ctx.Stop(time.Second)

	db, err := sql.Open("sqlite", ":memory:")
	r.NoError(err)
	defer db.Close()

	cache := New[string](ctx, db, 2)
	generated := 0
	gen := func(q string) func() (string, error) {
		return func() (string, error) {
			generated++
			return q, nil
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	r.NoError(err)
	defer func() { _ = tx.Rollback() }()

	for i := 0; i < 3; i++ {
		stmt, err := cache.Prepare(ctx, tx, "one", gen("SELECT 1"))
		r.NoError(err)
		var v int
		r.NoError(stmt.QueryRowContext(ctx).Scan(&v))
		r.Equal(1, v)
	}
	r.Equal(1, generated)
	r.Equal(1, cache.Len())

	_, err = cache.Prepare(ctx, tx, "two", gen("SELECT 2"))
	r.NoError(err)
	_, err = cache.Prepare(ctx, tx, "three", gen("SELECT 3"))
	r.NoError(err)
	r.Equal(2, cache.Len())

	// Generator failures are not cached.
	_, err = cache.Prepare(ctx, tx, "none", func() (string, error) {
		return "", errors.New("no query")
	})
	r.ErrorContains(err, "no query")
	r.Equal(2, cache.Len())

	// The driver may defer parsing until the statement is executed.
	stmt, err := cache.Prepare(ctx, tx, "bad", gen("NOT SQL"))
	if err == nil {
		_, err = stmt.ExecContext(ctx)
	}
	r.Error(err)
	r.Equal(2, cache.Len())

	cache.Forget("three")
	r.Equal(1, cache.Len())
	cache.Forget("missing")
	r.Equal(1, cache.Len())
}

func TestCacheClearedOnStop(t *testing.T) {
	r := require.New(t)
	ctx := stopper.WithContext(context.Background())

	db, err := sql.Open("sqlite", ":memory:")
	r.NoError(err)
	defer db.Close()

	cache := New[string](ctx, db, 4)
	_, err = cache.Prepare(ctx, db, "one", func() (string, error) { return "SELECT 1", nil })
	r.NoError(err)
	r.Equal(1, cache.Len())

	ctx.Stop(time.Second)
	r.NoError(ctx.Wait())
	r.Zero(cache.Len())
}
