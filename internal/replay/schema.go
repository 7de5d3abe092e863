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
	"strings"
	"sync"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/pkg/errors"
)

// These queries return the name, type, and primary-key position (or
// zero) of each column in a table. The first parameter is the schema,
// which may be empty to use the connection's default.
const (
	sqlColumnsPG = `
SELECT c.column_name, c.data_type, COALESCE(k.ordinal_position, 0)
  FROM information_schema.columns c
  LEFT JOIN (
    SELECT kcu.table_schema, kcu.table_name, kcu.column_name, kcu.ordinal_position
      FROM information_schema.table_constraints tc
      JOIN information_schema.key_column_usage kcu
        ON tc.constraint_schema = kcu.constraint_schema
       AND tc.constraint_name = kcu.constraint_name
       AND tc.table_name = kcu.table_name
     WHERE tc.constraint_type = 'PRIMARY KEY'
  ) k
    ON k.table_schema = c.table_schema
   AND k.table_name = c.table_name
   AND k.column_name = c.column_name
 WHERE c.table_schema = COALESCE(NULLIF($1, ''), current_schema())
   AND c.table_name = $2
 ORDER BY c.ordinal_position`

	sqlColumnsMySQL = `
SELECT c.COLUMN_NAME, c.COLUMN_TYPE, COALESCE(k.ORDINAL_POSITION, 0)
  FROM information_schema.COLUMNS c
  LEFT JOIN information_schema.KEY_COLUMN_USAGE k
    ON k.TABLE_SCHEMA = c.TABLE_SCHEMA
   AND k.TABLE_NAME = c.TABLE_NAME
   AND k.COLUMN_NAME = c.COLUMN_NAME
   AND k.CONSTRAINT_NAME = 'PRIMARY'
 WHERE c.TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE())
   AND c.TABLE_NAME = ?
 ORDER BY c.ORDINAL_POSITION`

	sqlColumnsSQLite = `
SELECT name, type, pk
  FROM pragma_table_info(?, ?)
 ORDER BY cid`
)

// tableInfo describes a table in the target database.
type tableInfo struct {
	name    ident.Table
	columns []types.Column
	keys    []string // Primary-key columns, in key order.
}

// column finds a column by name. An exact match is preferred, but
// unquoted identifiers may have been case-folded by the database.
func (t *tableInfo) column(name string) (types.Column, bool) {
	for _, col := range t.columns {
		if col.Name == name {
			return col, true
		}
	}
	for _, col := range t.columns {
		if strings.EqualFold(col.Name, name) {
			return col, true
		}
	}
	return types.Column{}, false
}

// schemaCache loads table metadata from the target database on first
// use.
type schemaCache struct {
	pool *types.TargetPool

	mu struct {
		sync.RWMutex
		tables map[string]*tableInfo
	}
}

func newSchemaCache(pool *types.TargetPool) *schemaCache {
	ret := &schemaCache{pool: pool}
	ret.mu.tables = make(map[string]*tableInfo)
	return ret
}

// get returns the table, which is named as it appears in a batch. A
// dotted name is qualified by its schema. An error is returned if the
// table does not exist.
func (c *schemaCache) get(ctx context.Context, name string) (*tableInfo, error) {
	c.mu.RLock()
	found, ok := c.mu.tables[name]
	c.mu.RUnlock()
	if ok {
		return found, nil
	}

	info, err := c.load(ctx, name)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Double-check idiom.
	if found, ok := c.mu.tables[name]; ok {
		return found, nil
	}
	c.mu.tables[name] = info
	return info, nil
}

// invalidate discards cached metadata, e.g. after a schema change.
func (c *schemaCache) invalidate(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.mu.tables, name)
}

func (c *schemaCache) load(ctx context.Context, name string) (*tableInfo, error) {
	var schemaName, tableName string
	if idx := strings.LastIndexByte(name, '.'); idx >= 0 {
		schemaName, tableName = name[:idx], name[idx+1:]
	} else {
		tableName = name
	}
	var sch ident.Schema
	if schemaName != "" {
		var err error
		if sch, err = ident.ParseSchema(schemaName); err != nil {
			return nil, err
		}
	}

	var q string
	switch c.pool.Product {
	case types.ProductCockroachDB, types.ProductPostgreSQL:
		q = sqlColumnsPG
	case types.ProductMySQL:
		q = sqlColumnsMySQL
	case types.ProductSQLite:
		q = sqlColumnsSQLite
	default:
		return nil, errors.Errorf("unsupported product %s", c.pool.Product)
	}
	// The innermost part of a multi-part schema is the one reported by
	// information_schema.
	lookupSchema := schemaName
	if parts := sch.Idents(); len(parts) > 0 {
		lookupSchema = parts[len(parts)-1].Raw()
	}

	info := &tableInfo{name: ident.NewTable(sch, ident.New(tableName))}
	err := retry.Retry(ctx, func(ctx context.Context) error {
		var args []any
		if c.pool.Product == types.ProductSQLite {
			if lookupSchema == "" {
				lookupSchema = "main"
			}
			args = []any{tableName, lookupSchema}
		} else {
			args = []any{lookupSchema, tableName}
		}
		rows, err := c.pool.QueryContext(ctx, q, args...)
		if err != nil {
			return errors.WithStack(err)
		}
		defer rows.Close()

		// Clear from previous loop.
		info.columns = info.columns[:0]
		var keyPos []int
		for rows.Next() {
			var col types.Column
			var typ sql.NullString
			var pos int
			if err := rows.Scan(&col.Name, &typ, &pos); err != nil {
				return errors.WithStack(err)
			}
			col.Type = typ.String
			col.PrimaryKey = pos > 0
			info.columns = append(info.columns, col)
			keyPos = append(keyPos, pos)
		}
		if err := rows.Err(); err != nil {
			return errors.WithStack(err)
		}
		info.keys = orderKeys(info.columns, keyPos)
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "could not inspect table %s", name)
	}
	if len(info.columns) == 0 {
		return nil, errors.Errorf("table %s not found in target database", name)
	}
	return info, nil
}

// orderKeys returns the names of the primary-key columns, sorted by
// their position within the key.
func orderKeys(cols []types.Column, pos []int) []string {
	maxPos := 0
	for _, p := range pos {
		maxPos = max(maxPos, p)
	}
	ret := make([]string, 0, maxPos)
	for want := 1; want <= maxPos; want++ {
		for i, p := range pos {
			if p == want {
				ret = append(ret, cols[i].Name)
			}
		}
	}
	return ret
}
