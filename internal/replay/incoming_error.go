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
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/pkg/errors"
)

// The incoming-error table lives in the target database, so that rows
// which are set aside are recorded in the same transaction as the rest
// of the batch.
const (
	errorInsert  = `INSERT INTO %[1]s (batch_id, node_id, failed_row_number, table_name, event_type, row_data, old_data, pk_data, sql_state, sql_code, sql_message, resolve_type, create_time) VALUES `
	errorArgsPG  = `($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	errorArgsStd = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	errorList    = `
SELECT failed_row_number, table_name, event_type, row_data, old_data, pk_data,
       sql_state, sql_code, sql_message, resolve_type
  FROM %[1]s
 WHERE node_id = %[2]s AND batch_id = %[3]s
 ORDER BY failed_row_number`

	errorSchemaPG = `
CREATE TABLE IF NOT EXISTS %[1]s (
  batch_id          BIGINT    NOT NULL,
  node_id           TEXT      NOT NULL,
  failed_row_number BIGINT    NOT NULL,
  table_name        TEXT      NOT NULL,
  event_type        TEXT      NOT NULL,
  row_data          TEXT,
  old_data          TEXT,
  pk_data           TEXT,
  sql_state         TEXT,
  sql_code          INT       NOT NULL,
  sql_message       TEXT,
  resolve_type      TEXT      NOT NULL,
  create_time       TIMESTAMP NOT NULL,
  PRIMARY KEY (batch_id, node_id, failed_row_number)
)`
	errorSchemaMySQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  batch_id          BIGINT       NOT NULL,
  node_id           VARCHAR(255) NOT NULL,
  failed_row_number BIGINT       NOT NULL,
  table_name        VARCHAR(255) NOT NULL,
  event_type        CHAR(1)      NOT NULL,
  row_data          LONGTEXT,
  old_data          LONGTEXT,
  pk_data           TEXT,
  sql_state         VARCHAR(5),
  sql_code          INT          NOT NULL,
  sql_message       TEXT,
  resolve_type      VARCHAR(16)  NOT NULL,
  create_time       DATETIME(6)  NOT NULL,
  PRIMARY KEY (batch_id, node_id, failed_row_number)
)`
	errorSchemaSQLite = `
CREATE TABLE IF NOT EXISTS %[1]s (
  batch_id          INTEGER NOT NULL,
  node_id           TEXT    NOT NULL,
  failed_row_number INTEGER NOT NULL,
  table_name        TEXT    NOT NULL,
  event_type        TEXT    NOT NULL,
  row_data          TEXT,
  old_data          TEXT,
  pk_data           TEXT,
  sql_state         TEXT,
  sql_code          INTEGER NOT NULL,
  sql_message       TEXT,
  resolve_type      TEXT    NOT NULL,
  create_time       TEXT    NOT NULL,
  PRIMARY KEY (batch_id, node_id, failed_row_number)
)`
)

// errorSchemas holds the incoming-error table definition for each
// product.
var errorSchemas = map[types.Product]string{
	types.ProductCockroachDB: errorSchemaPG,
	types.ProductMySQL:       errorSchemaMySQL,
	types.ProductPostgreSQL:  errorSchemaPG,
	types.ProductSQLite:      errorSchemaSQLite,
}

// errorTable writes [types.IncomingError] rows.
type errorTable struct {
	insert string
	list   string
	table  ident.Table
}

// newErrorTable creates the table, if necessary.
func newErrorTable(ctx context.Context, pool *types.TargetPool, table ident.Table) (*errorTable, error) {
	schema, ok := errorSchemas[pool.Product]
	if !ok {
		return nil, errors.Errorf("incoming errors unimplemented for product %s", pool.Product)
	}
	if _, err := pool.ExecContext(ctx, fmt.Sprintf(schema, table)); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", table)
	}
	// The query differs only in the argument syntax.
	q := errorInsert + errorArgsStd
	switch pool.Product {
	case types.ProductCockroachDB, types.ProductPostgreSQL:
		q = errorInsert + errorArgsPG
	}
	return &errorTable{
		insert: fmt.Sprintf(q, table),
		list:   fmt.Sprintf(errorList, table, pool.Dialect.Placeholder(1), pool.Dialect.Placeholder(2)),
		table:  table,
	}, nil
}

// Record writes the row within the transaction.
func (t *errorTable) Record(
	ctx context.Context, tx types.TargetQuerier, stmts *types.TargetStatements, row *types.IncomingError,
) error {
	stmt, err := stmts.Prepare(ctx, tx, t.insert, func() (string, error) { return t.insert, nil })
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		row.BatchID,
		row.NodeID,
		row.FailedRowNumber,
		row.Table,
		row.Event.Code(),
		encodeValues(row.RowData),
		encodeValues(row.OldData),
		encodeValues(row.PKData),
		row.SQLState,
		row.SQLCode,
		row.SQLMessage,
		string(row.Resolution),
		row.CreateTime,
	)
	return errors.Wrapf(err, "could not record error in %s", t.table)
}

// List returns the recorded errors for a batch.
func (t *errorTable) List(
	ctx context.Context, db types.TargetQuerier, nodeID string, batchID int64,
) ([]*types.IncomingError, error) {
	rows, err := db.QueryContext(ctx, t.list, nodeID, batchID)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer rows.Close()

	var ret []*types.IncomingError
	for rows.Next() {
		row := &types.IncomingError{BatchID: batchID, NodeID: nodeID}
		var event, resolution string
		var rowData, oldData, pkData, state, msg sql.NullString
		if err := rows.Scan(&row.FailedRowNumber, &row.Table, &event,
			&rowData, &oldData, &pkData, &state, &row.SQLCode, &msg, &resolution); err != nil {
			return nil, errors.WithStack(err)
		}
		if row.Event, err = types.ParseEventType(event); err != nil {
			return nil, err
		}
		if row.RowData, err = decodeValues(rowData); err != nil {
			return nil, err
		}
		if row.OldData, err = decodeValues(oldData); err != nil {
			return nil, err
		}
		if row.PKData, err = decodeValues(pkData); err != nil {
			return nil, err
		}
		row.SQLState = state.String
		row.SQLMessage = msg.String
		row.Resolution = types.Resolution(resolution)
		ret = append(ret, row)
	}
	return ret, errors.WithStack(rows.Err())
}

// encodeValues returns a JSON array, or nil for an absent tuple.
func encodeValues(vals []types.Value) any {
	if vals == nil {
		return nil
	}
	buf, err := json.Marshal(vals)
	if err != nil {
		// A slice of string pointers always marshals.
		panic(err)
	}
	return string(buf)
}

func decodeValues(data sql.NullString) ([]types.Value, error) {
	if !data.Valid {
		return nil, nil
	}
	var ret []types.Value
	if err := json.Unmarshal([]byte(data.String), &ret); err != nil {
		return nil, errors.Wrap(err, "could not decode values")
	}
	return ret, nil
}
