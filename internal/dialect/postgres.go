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
	"strconv"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pkg/errors"
)

// postgres is used for both PostgreSQL and CockroachDB.
type postgres struct {
	product types.Product
}

var _ types.Dialect = (*postgres)(nil)

// Classify implements [types.Dialect].
func (d *postgres) Classify(err error) types.ErrorClass {
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) {
		if pgErr.Code == "23505" { // unique_violation
			return types.ErrorDuplicateKey
		}
	}
	return types.ErrorData
}

// IsLob implements [types.Dialect].
func (d *postgres) IsLob(col types.Column) bool {
	return d.Kind(col) == types.KindLOB
}

// Kind implements [types.Dialect].
func (d *postgres) Kind(col types.Column) types.ColumnKind {
	typ := normalize(col.Type)
	if kind, ok := commonKind(typ); ok {
		return kind
	}
	switch typ {
	case "BIGSERIAL", "MONEY", "SERIAL", "SMALLSERIAL":
		return types.KindNumeric
	case "TIMESTAMPTZ", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITHOUT TIME ZONE",
		"TIMETZ", "TIME WITH TIME ZONE", "TIME WITHOUT TIME ZONE":
		return types.KindTemporal
	case "BYTEA", "BYTES", "JSON", "JSONB", "OID", "XML":
		return types.KindLOB
	default:
		return types.KindText
	}
}

// Placeholder implements [types.Dialect].
func (d *postgres) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}

// Product implements [types.Dialect].
func (d *postgres) Product() types.Product { return d.product }

// SavepointPerStatement implements [types.Dialect]. Any error aborts a
// PostgreSQL transaction until it is rolled back to a savepoint.
func (d *postgres) SavepointPerStatement() bool { return true }

// SQLState implements [types.Dialect].
func (d *postgres) SQLState(err error) (string, int, string) {
	if pgErr := (*pgconn.PgError)(nil); errors.As(err, &pgErr) {
		return pgErr.Code, 0, pgErr.Message
	}
	return "", 0, err.Error()
}
