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
	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
)

type mySQL struct{}

var _ types.Dialect = (*mySQL)(nil)

// Classify implements [types.Dialect].
func (d *mySQL) Classify(err error) types.ErrorClass {
	if myErr := (*mysql.MySQLError)(nil); errors.As(err, &myErr) {
		switch myErr.Number {
		case 1062, // ER_DUP_ENTRY
			1586: // ER_DUP_ENTRY_WITH_KEY_NAME
			return types.ErrorDuplicateKey
		}
	}
	return types.ErrorData
}

// IsLob implements [types.Dialect].
func (d *mySQL) IsLob(col types.Column) bool {
	return d.Kind(col) == types.KindLOB
}

// Kind implements [types.Dialect].
func (d *mySQL) Kind(col types.Column) types.ColumnKind {
	typ := normalize(col.Type)
	// TINYINT(1) and BIT(1) are the conventional boolean encodings.
	if (typ == "TINYINT" || typ == "BIT") &&
		strings.HasSuffix(strings.ReplaceAll(col.Type, " ", ""), "(1)") {
		return types.KindBoolean
	}
	if kind, ok := commonKind(typ); ok {
		return kind
	}
	switch typ {
	case "BIT", "MEDIUMINT", "TINYINT", "YEAR":
		return types.KindNumeric
	case "BLOB", "JSON", "LONGBLOB", "LONGTEXT", "MEDIUMBLOB", "MEDIUMTEXT",
		"TEXT", "TINYBLOB", "TINYTEXT":
		return types.KindLOB
	default:
		return types.KindText
	}
}

// Placeholder implements [types.Dialect].
func (d *mySQL) Placeholder(int) string { return "?" }

// Product implements [types.Dialect].
func (d *mySQL) Product() types.Product { return types.ProductMySQL }

// SavepointPerStatement implements [types.Dialect]. A failed statement
// is rolled back on its own, leaving the transaction usable.
func (d *mySQL) SavepointPerStatement() bool { return false }

// SQLState implements [types.Dialect].
func (d *mySQL) SQLState(err error) (string, int, string) {
	if myErr := (*mysql.MySQLError)(nil); errors.As(err, &myErr) {
		return string(myErr.SQLState[:]), int(myErr.Number), myErr.Message
	}
	return "", 0, err.Error()
}
