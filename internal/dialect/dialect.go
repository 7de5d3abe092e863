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

// Package dialect contains the behaviors that vary between the
// supported target database products.
package dialect

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
)

// ForProduct returns the Dialect to use with the given product.
func ForProduct(p types.Product) (types.Dialect, error) {
	switch p {
	case types.ProductCockroachDB:
		return &postgres{product: p}, nil
	case types.ProductPostgreSQL:
		return &postgres{product: p}, nil
	case types.ProductMySQL:
		return &mySQL{}, nil
	case types.ProductSQLite:
		return &sqlite{}, nil
	default:
		return nil, errors.Errorf("no dialect for product %s", p)
	}
}

var typeModifiers = regexp.MustCompile(`\(.*\)`)

// normalize returns the upper-cased type name, without length or
// precision modifiers.
func normalize(typ string) string {
	typ = typeModifiers.ReplaceAllString(typ, "")
	typ = strings.TrimSuffix(strings.TrimSpace(typ), "[]")
	return strings.ToUpper(strings.Join(strings.Fields(typ), " "))
}

// commonKind handles the type names that are shared by the products.
func commonKind(typ string) (types.ColumnKind, bool) {
	switch typ {
	case "BIGINT", "DECIMAL", "DOUBLE", "DOUBLE PRECISION", "FLOAT", "FLOAT4", "FLOAT8",
		"INT", "INT2", "INT4", "INT8", "INTEGER", "NUMERIC", "REAL", "SMALLINT":
		return types.KindNumeric, true
	case "BOOL", "BOOLEAN":
		return types.KindBoolean, true
	case "DATE", "DATETIME", "TIME", "TIMESTAMP":
		return types.KindTemporal, true
	case "CHAR", "CHARACTER", "CHARACTER VARYING", "STRING", "VARCHAR":
		return types.KindText, true
	default:
		return types.KindText, false
	}
}

