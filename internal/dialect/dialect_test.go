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

package dialect

import (
	"context"
	"database/sql"
	"testing"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func TestKinds(t *testing.T) {
	tcs := []struct {
		product types.Product
		typ     string
		kind    types.ColumnKind
	}{
		{types.ProductPostgreSQL, "integer", types.KindNumeric},
		{types.ProductPostgreSQL, "numeric(10,2)", types.KindNumeric},
		{types.ProductPostgreSQL, "timestamp with time zone", types.KindTemporal},
		{types.ProductPostgreSQL, "bool", types.KindBoolean},
		{types.ProductPostgreSQL, "bytea", types.KindLOB},
		{types.ProductPostgreSQL, "jsonb", types.KindLOB},
		{types.ProductPostgreSQL, "varchar(50)", types.KindText},
		{types.ProductPostgreSQL, "text", types.KindText},
		{types.ProductCockroachDB, "STRING", types.KindText},
		{types.ProductCockroachDB, "INT8", types.KindNumeric},
		{types.ProductMySQL, "tinyint(1)", types.KindBoolean},
		{types.ProductMySQL, "tinyint(4)", types.KindNumeric},
		{types.ProductMySQL, "longtext", types.KindLOB},
		{types.ProductMySQL, "text", types.KindLOB},
		{types.ProductMySQL, "datetime(6)", types.KindTemporal},
		{types.ProductSQLite, "BLOB", types.KindLOB},
		{types.ProductSQLite, "", types.KindLOB},
		{types.ProductSQLite, "UNSIGNED BIG INT", types.KindNumeric},
		{types.ProductSQLite, "CLOB", types.KindText},
		{types.ProductSQLite, "DATE", types.KindTemporal},
	}
	for _, tc := range tcs {
		t.Run(tc.product.String()+"/"+tc.typ, func(t *testing.T) {
			a := assert.New(t)
			d, err := ForProduct(tc.product)
			if !a.NoError(err) {
				return
			}
			col := types.Column{Name: "c", Type: tc.typ}
			a.Equal(tc.kind, d.Kind(col))
			a.Equal(tc.kind == types.KindLOB, d.IsLob(col))
		})
	}

	_, err := ForProduct(types.ProductUnknown)
	assert.Error(t, err)
}

func TestPlaceholders(t *testing.T) {
	a := assert.New(t)
	pg, _ := ForProduct(types.ProductPostgreSQL)
	my, _ := ForProduct(types.ProductMySQL)
	lite, _ := ForProduct(types.ProductSQLite)
	a.Equal("$12", pg.Placeholder(12))
	a.Equal("?", my.Placeholder(12))
	a.Equal("?", lite.Placeholder(1))
	a.True(pg.SavepointPerStatement())
	a.False(my.SavepointPerStatement())
	a.False(lite.SavepointPerStatement())
}

func TestClassifyDriverErrors(t *testing.T) {
	a := assert.New(t)

	pg, _ := ForProduct(types.ProductCockroachDB)
	dup := errors.WithStack(&pgconn.PgError{Code: "23505", Message: "duplicate key"})
	a.Equal(types.ErrorDuplicateKey, pg.Classify(dup))
	a.Equal(types.ErrorData, pg.Classify(&pgconn.PgError{Code: "22007"}))
	state, _, msg := pg.SQLState(dup)
	a.Equal("23505", state)
	a.Equal("duplicate key", msg)

	my, _ := ForProduct(types.ProductMySQL)
	myDup := &mysql.MySQLError{Number: 1062, SQLState: [5]byte{'2', '3', '0', '0', '0'}, Message: "dup"}
	a.Equal(types.ErrorDuplicateKey, my.Classify(myDup))
	a.Equal(types.ErrorData, my.Classify(&mysql.MySQLError{Number: 1292}))
	state, code, _ := my.SQLState(myDup)
	a.Equal("23000", state)
	a.Equal(1062, code)

	a.Equal(types.ErrorData, my.Classify(errors.New("plain")))
}

func TestClassifySQLite(t *testing.T) {
	r := require.New(t)
	ctx := context.Background()

	db, err := sql.Open("sqlite", ":memory:")
	r.NoError(err)
	defer db.Close()
	conn, err := db.Conn(ctx)
	r.NoError(err)
	defer conn.Close()

	_, err = conn.ExecContext(ctx,
		`CREATE TABLE t (k INT PRIMARY KEY, u TEXT UNIQUE, d TEXT CHECK (julianday(d) IS NOT NULL))`)
	r.NoError(err)
	_, err = conn.ExecContext(ctx, `INSERT INTO t VALUES (1, 'a', '2024-01-01')`)
	r.NoError(err)

	lite, _ := ForProduct(types.ProductSQLite)

	_, err = conn.ExecContext(ctx, `INSERT INTO t VALUES (1, 'b', '2024-01-01')`)
	r.Error(err)
	r.Equal(types.ErrorDuplicateKey, lite.Classify(err))

	_, err = conn.ExecContext(ctx, `INSERT INTO t VALUES (2, 'a', '2024-01-01')`)
	r.Error(err)
	r.Equal(types.ErrorDuplicateKey, lite.Classify(err))

	_, err = conn.ExecContext(ctx, `INSERT INTO t VALUES (3, 'c', 'not a date')`)
	r.Error(err)
	r.Equal(types.ErrorData, lite.Classify(err))
	_, code, msg := lite.SQLState(err)
	r.NotZero(code)
	r.Contains(msg, "CHECK")
}
