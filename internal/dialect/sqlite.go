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
	"strings"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

type sqlite struct{}

var _ types.Dialect = (*sqlite)(nil)

// Classify implements [types.Dialect].
func (d *sqlite) Classify(err error) types.ErrorClass {
	if liteErr := (*sqlitedrv.Error)(nil); errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return types.ErrorDuplicateKey
		}
	}
	return types.ErrorData
}

// IsLob implements [types.Dialect].
func (d *sqlite) IsLob(col types.Column) bool {
	return d.Kind(col) == types.KindLOB
}

// Kind implements [types.Dialect]. Unrecognized names are mapped using
// SQLite's type-affinity rules.
func (d *sqlite) Kind(col types.Column) types.ColumnKind {
	typ := normalize(col.Type)
	if kind, ok := commonKind(typ); ok {
		return kind
	}
	switch {
	case typ == "", strings.Contains(typ, "BLOB"):
		return types.KindLOB
	case strings.Contains(typ, "INT"),
		strings.Contains(typ, "REAL"),
		strings.Contains(typ, "FLOA"),
		strings.Contains(typ, "DOUB"):
		return types.KindNumeric
	default:
		return types.KindText
	}
}

// Placeholder implements [types.Dialect].
func (d *sqlite) Placeholder(int) string { return "?" }

// Product implements [types.Dialect].
func (d *sqlite) Product() types.Product { return types.ProductSQLite }

// SavepointPerStatement implements [types.Dialect]. Constraint failures
// abort only the failing statement.
func (d *sqlite) SavepointPerStatement() bool { return false }

// SQLState implements [types.Dialect]. SQLite has no SQLSTATE values,
// only extended result codes.
func (d *sqlite) SQLState(err error) (string, int, string) {
	if liteErr := (*sqlitedrv.Error)(nil); errors.As(err, &liteErr) {
		return "", liteErr.Code(), liteErr.Error()
	}
	return "", 0, err.Error()
}
