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

package stdpool

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/require"
)

func TestOpenSQLiteTarget(t *testing.T) {
	r := require.New(t)
	ctx := stopper.WithContext(context.Background())
	defer ctx.Stop(time.Second)

	for _, conn := range []string{
		"sqlite::memory:",
		"sqlite://" + filepath.ToSlash(filepath.Join(t.TempDir(), "target.db")),
	} {
		pool, err := OpenTarget(ctx, conn,
			WithConnectionLifetime(time.Minute, time.Minute, 0),
			WithPoolSize(1),
		)
		r.NoError(err, conn)
		r.Equal(types.ProductSQLite, pool.Product)
		r.NotEmpty(pool.Version)
		r.NotNil(pool.Dialect)

		_, err = pool.ExecContext(ctx, "CREATE TABLE t (k INT PRIMARY KEY)")
		r.NoError(err)
	}
}

func TestOpenTargetUnknownScheme(t *testing.T) {
	ctx := stopper.WithContext(context.Background())
	defer ctx.Stop(time.Second)

	_, err := OpenTarget(ctx, "ora://user@host/db")
	require.ErrorContains(t, err, "unknown URL scheme")
}
