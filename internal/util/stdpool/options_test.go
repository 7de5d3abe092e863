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
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestPgxOptions(t *testing.T) {
	a := assert.New(t)
	r := require.New(t)

	cfg, err := parsePgxConfig("postgresql://root@localhost:26257/defaultdb", []Option{
		WithConnectionLifetime(time.Hour, time.Minute, time.Second),
		WithPoolSize(16),
		WithTransactionTimeout(30 * time.Second),
		WithPoolSize(0), // Ignored.
	})
	r.NoError(err)
	a.Equal(time.Hour, cfg.MaxConnLifetime)
	a.Equal(time.Minute, cfg.MaxConnIdleTime)
	a.Equal(time.Second, cfg.MaxConnLifetimeJitter)
	a.Equal(int32(16), cfg.MaxConns)
	a.Equal(int32(1), cfg.MinConns)
	a.Equal("30000", cfg.ConnConfig.RuntimeParams["idle_in_transaction_session_timeout"])
	a.Equal(applicationName, cfg.ConnConfig.RuntimeParams["application_name"])

	_, err = parsePgxConfig("postgresql://%zz", nil)
	a.Error(err)
}

func TestSQLDBOptions(t *testing.T) {
	r := require.New(t)
	db, err := sql.Open("sqlite", ":memory:")
	r.NoError(err)
	defer db.Close()

	applySQLDB(context.Background(), db, []Option{
		WithPoolSize(3),
		WithTransactionTimeout(time.Minute), // No effect on database/sql.
	})
	assert.Equal(t, 3, db.Stats().MaxOpenConnections)
}
