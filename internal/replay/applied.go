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
	"fmt"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/pkg/errors"
)

// The applied table lives in the target database. A row is written in
// the same transaction as the statements of a batch, so that a batch
// whose changes were committed can be recognized even if its status was
// never saved to the staging database. Times are stored as unix
// microseconds to avoid driver-specific time handling.
const (
	appliedCols = `node_id, batch_id, channel_id, statement_count,
fallback_insert_count, fallback_update_count, missing_delete_count,
ignore_count, byte_count, start_micros, end_micros`
	appliedInsert  = `INSERT INTO %[1]s (` + appliedCols + `) VALUES `
	appliedArgsPG  = `($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	appliedArgsStd = `(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	appliedGet     = `SELECT ` + appliedCols + ` FROM %[1]s WHERE node_id = %[2]s AND batch_id = %[3]s`
	appliedDelete  = `DELETE FROM %[1]s WHERE node_id = %[2]s AND batch_id = %[3]s`

	appliedSchemaPG = `
CREATE TABLE IF NOT EXISTS %[1]s (
  node_id               TEXT   NOT NULL,
  batch_id              BIGINT NOT NULL,
  channel_id            TEXT   NOT NULL,
  statement_count       BIGINT NOT NULL,
  fallback_insert_count BIGINT NOT NULL,
  fallback_update_count BIGINT NOT NULL,
  missing_delete_count  BIGINT NOT NULL,
  ignore_count          BIGINT NOT NULL,
  byte_count            BIGINT NOT NULL,
  start_micros          BIGINT NOT NULL,
  end_micros            BIGINT NOT NULL,
  PRIMARY KEY (node_id, batch_id)
)`
	appliedSchemaMySQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  node_id               VARCHAR(255) NOT NULL,
  batch_id              BIGINT       NOT NULL,
  channel_id            VARCHAR(255) NOT NULL,
  statement_count       BIGINT       NOT NULL,
  fallback_insert_count BIGINT       NOT NULL,
  fallback_update_count BIGINT       NOT NULL,
  missing_delete_count  BIGINT       NOT NULL,
  ignore_count          BIGINT       NOT NULL,
  byte_count            BIGINT       NOT NULL,
  start_micros          BIGINT       NOT NULL,
  end_micros            BIGINT       NOT NULL,
  PRIMARY KEY (node_id, batch_id)
)`
	appliedSchemaSQLite = `
CREATE TABLE IF NOT EXISTS %[1]s (
  node_id               TEXT    NOT NULL,
  batch_id              INTEGER NOT NULL,
  channel_id            TEXT    NOT NULL,
  statement_count       INTEGER NOT NULL,
  fallback_insert_count INTEGER NOT NULL,
  fallback_update_count INTEGER NOT NULL,
  missing_delete_count  INTEGER NOT NULL,
  ignore_count          INTEGER NOT NULL,
  byte_count            INTEGER NOT NULL,
  start_micros          INTEGER NOT NULL,
  end_micros            INTEGER NOT NULL,
  PRIMARY KEY (node_id, batch_id)
)`
)

var appliedSchemas = map[types.Product]string{
	types.ProductCockroachDB: appliedSchemaPG,
	types.ProductMySQL:       appliedSchemaMySQL,
	types.ProductPostgreSQL:  appliedSchemaPG,
	types.ProductSQLite:      appliedSchemaSQLite,
}

// appliedTable records the batches whose changes were committed to the
// target.
type appliedTable struct {
	delete string
	get    string
	insert string
	table  ident.Table
}

// newAppliedTable creates the table, if necessary.
func newAppliedTable(ctx context.Context, pool *types.TargetPool, table ident.Table) (*appliedTable, error) {
	schema, ok := appliedSchemas[pool.Product]
	if !ok {
		return nil, errors.Errorf("applied batches unimplemented for product %s", pool.Product)
	}
	if _, err := pool.ExecContext(ctx, fmt.Sprintf(schema, table)); err != nil {
		return nil, errors.Wrapf(err, "could not create %s", table)
	}
	q := appliedInsert + appliedArgsStd
	switch pool.Product {
	case types.ProductCockroachDB, types.ProductPostgreSQL:
		q = appliedInsert + appliedArgsPG
	}
	p1, p2 := pool.Dialect.Placeholder(1), pool.Dialect.Placeholder(2)
	return &appliedTable{
		delete: fmt.Sprintf(appliedDelete, table, p1, p2),
		get:    fmt.Sprintf(appliedGet, table, p1, p2),
		insert: fmt.Sprintf(q, table),
		table:  table,
	}, nil
}

// Delete removes the marker of a batch whose status has been saved.
func (t *appliedTable) Delete(
	ctx context.Context, db types.TargetQuerier, nodeID string, batchID int64,
) error {
	_, err := db.ExecContext(ctx, t.delete, nodeID, batchID)
	return errors.Wrapf(err, "could not delete from %s", t.table)
}

// Get returns an OK batch built from the marker, if one exists.
func (t *appliedTable) Get(
	ctx context.Context, db types.TargetQuerier, nodeID string, batchID int64,
) (*types.IncomingBatch, bool, error) {
	ret := &types.IncomingBatch{Status: types.BatchOK}
	var start, end int64
	err := db.QueryRowContext(ctx, t.get, nodeID, batchID).Scan(
		&ret.NodeID,
		&ret.BatchID,
		&ret.Channel,
		&ret.StatementCount,
		&ret.FallbackInsertCount,
		&ret.FallbackUpdateCount,
		&ret.MissingDeleteCount,
		&ret.IgnoreCount,
		&ret.ByteCount,
		&start,
		&end,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "could not read %s", t.table)
	}
	ret.StartTime = time.UnixMicro(start).UTC()
	ret.EndTime = time.UnixMicro(end).UTC()
	ret.LastUpdate = ret.EndTime
	return ret, true, nil
}

// Record writes the marker within the batch transaction.
func (t *appliedTable) Record(
	ctx context.Context, tx types.TargetQuerier, stmts *types.TargetStatements, b *types.IncomingBatch,
) error {
	stmt, err := stmts.Prepare(ctx, tx, t.insert, func() (string, error) { return t.insert, nil })
	if err != nil {
		return err
	}
	_, err = stmt.ExecContext(ctx,
		b.NodeID,
		b.BatchID,
		b.Channel,
		b.StatementCount,
		b.FallbackInsertCount,
		b.FallbackUpdateCount,
		b.MissingDeleteCount,
		b.IgnoreCount,
		b.ByteCount,
		b.StartTime.UnixMicro(),
		b.EndTime.UnixMicro(),
	)
	return errors.Wrapf(err, "could not record batch in %s", t.table)
}
