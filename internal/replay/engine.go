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

// Package replay applies batches of captured changes to a target
// database and records the outcome of each batch.
package replay

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Engine loads batches into the target database. Each batch is applied
// in its own target transaction.
type Engine struct {
	cfg     *Config
	applied *appliedTable
	batches types.IncomingBatches
	errors  *errorTable
	locks   types.Locks
	schema  *schemaCache
	stmts   *types.TargetStatements
	target  *types.TargetPool
	now     func() time.Time
}

// New constructs an Engine. The locks may be nil if the Config does
// not name a lock action.
func New(
	ctx context.Context,
	cfg *Config,
	batches types.IncomingBatches,
	locks types.Locks,
	target *types.TargetPool,
	stmts *types.TargetStatements,
) (*Engine, error) {
	if cfg.LockAction != "" && locks == nil {
		return nil, errors.New("a lock action requires a lock manager")
	}
	applied, err := newAppliedTable(ctx, target, ident.NewTable(ident.Schema{}, ident.New(cfg.AppliedTable)))
	if err != nil {
		return nil, err
	}
	errTable, err := newErrorTable(ctx, target, ident.NewTable(ident.Schema{}, ident.New(cfg.ErrorTable)))
	if err != nil {
		return nil, err
	}
	return &Engine{
		cfg:     cfg,
		applied: applied,
		batches: batches,
		errors:  errTable,
		locks:   locks,
		schema:  newSchemaCache(target),
		stmts:   stmts,
		target:  target,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Errors returns the rows of a batch which were set aside by a conflict
// policy.
func (e *Engine) Errors(
	ctx context.Context, nodeID string, batchID int64,
) ([]*types.IncomingError, error) {
	return e.errors.List(ctx, e.target, nodeID, batchID)
}

// Load reads a stream of batches and loads each one in turn. Loading
// stops after the first batch which does not end OK, since later
// batches in the stream may depend upon it.
func (e *Engine) Load(ctx context.Context, r io.Reader) ([]*types.IncomingBatch, error) {
	reader := NewReader(r, e.cfg.BufferSize)
	var ret []*types.IncomingBatch
	for {
		next, err := reader.NextBatch(ctx)
		if err != nil {
			if _, ok := types.IsParseError(err); ok {
				parseErrors.Inc()
			}
			return ret, err
		}
		if next == nil {
			return ret, nil
		}
		batch, err := e.LoadBatch(ctx, next.NodeID(), next.BatchID(), next)
		if err != nil {
			return ret, err
		}
		ret = append(ret, batch)
		if batch.Status != types.BatchOK {
			return ret, nil
		}
	}
}

// LoadBatch applies the records of one batch and returns its final
// state. A batch which failed to apply is reported with status ER and a
// nil error. An error is returned if the records are malformed, in
// which case nothing is recorded for the batch.
//
// A batch which was previously loaded successfully is not applied
// again. Its records are consumed and its skip count is incremented.
// The target database is the authority on whether a batch was applied,
// so a batch whose changes were committed but whose status could not be
// saved is also skipped.
func (e *Engine) LoadBatch(
	ctx context.Context,
	nodeID string,
	batchID int64,
	records types.Iterator[*types.ChangeRecord],
) (*types.IncomingBatch, error) {
	if e.cfg.LockAction != "" {
		ok, err := e.locks.LockWait(ctx, e.cfg.LockAction, types.LockExclusive, e.cfg.LockTimeout)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, errors.Errorf("timed out waiting for %s lock", e.cfg.LockAction)
		}
		defer func() {
			if err := e.locks.Unlock(context.WithoutCancel(ctx), e.cfg.LockAction, types.LockExclusive); err != nil {
				log.WithError(err).Warn("could not release replay lock")
			}
		}()
	}

	start := time.Now()
	prev, found, err := e.batches.Get(ctx, nodeID, batchID)
	if err != nil {
		return nil, err
	}
	if found && prev.Status == types.BatchOK {
		return e.skip(ctx, prev, records)
	}
	committed, ok, err := e.applied.Get(ctx, e.target, nodeID, batchID)
	if err != nil {
		return nil, err
	}
	if ok {
		if found {
			committed.SkipCount = prev.SkipCount
		}
		if err := e.recover(ctx, committed); err != nil {
			return nil, err
		}
		return e.skip(ctx, committed, records)
	}

	now := e.now()
	batch := &types.IncomingBatch{
		BatchID:    batchID,
		NodeID:     nodeID,
		Status:     types.BatchLoading,
		StartTime:  now,
		LastUpdate: now,
	}
	if ch, ok := records.(interface{ Channel() string }); ok {
		batch.Channel = ch.Channel()
	}
	if err := e.batches.Put(ctx, batch); err != nil {
		return nil, err
	}

	l := &loader{
		Engine:  e,
		batch:   batch,
		layouts: make(map[string]*layout),
		policy:  e.cfg.Conflicts.For(nodeID),
	}
	l.declared, _ = records.(declarer)

	if err := l.run(ctx, records); err != nil {
		// Forget that the delivery was ever attempted.
		restoreCtx := context.WithoutCancel(ctx)
		var restoreErr error
		if found {
			restoreErr = e.batches.Put(restoreCtx, prev)
		} else {
			restoreErr = e.batches.Delete(restoreCtx, nodeID, batchID)
		}
		if restoreErr != nil {
			log.WithError(restoreErr).WithField("batch", batch).Warn("could not discard batch state")
		}
		if _, ok := types.IsParseError(err); ok {
			parseErrors.Inc()
		}
		return nil, err
	}
	batchBytes.WithLabelValues(nodeID).Observe(float64(batch.ByteCount))
	if batch.EndTime.IsZero() {
		batch.EndTime = e.now()
	}
	batch.LastUpdate = batch.EndTime
	if err := e.batches.Put(context.WithoutCancel(ctx), batch); err != nil {
		return nil, err
	}
	if batch.Status == types.BatchOK {
		e.forgetApplied(ctx, batch)
	}

	batchDurations.WithLabelValues(nodeID).Observe(time.Since(start).Seconds())
	batchOutcomes.WithLabelValues(nodeID, string(batch.Status)).Inc()
	fields := log.Fields{
		"batch":          batch,
		"fallbackInsert": batch.FallbackInsertCount,
		"fallbackUpdate": batch.FallbackUpdateCount,
		"missingDelete":  batch.MissingDeleteCount,
		"statements":     batch.StatementCount,
	}
	if batch.Status == types.BatchOK {
		log.WithFields(fields).Debug("loaded batch")
	} else {
		fields["failedRow"] = batch.FailedRowNumber
		fields["sqlState"] = batch.SQLState
		log.WithFields(fields).Warn(batch.SQLMessage)
	}
	return batch, nil
}

// recover saves the status of a batch which was committed to the target
// but never recorded as OK.
func (e *Engine) recover(ctx context.Context, batch *types.IncomingBatch) error {
	if err := e.batches.Put(ctx, batch); err != nil {
		return err
	}
	batchRecoveries.WithLabelValues(batch.NodeID).Inc()
	log.WithField("batch", batch).Info("recovered status of a batch which had been committed")
	e.forgetApplied(ctx, batch)
	return nil
}

// forgetApplied removes the target marker once the staging status says
// OK. A marker left behind is harmless.
func (e *Engine) forgetApplied(ctx context.Context, batch *types.IncomingBatch) {
	if err := e.applied.Delete(context.WithoutCancel(ctx), e.target, batch.NodeID, batch.BatchID); err != nil {
		log.WithError(err).WithField("batch", batch).Warn("could not delete applied marker")
	}
}

// skip consumes the records of a batch that has already been loaded.
func (e *Engine) skip(
	ctx context.Context, prev *types.IncomingBatch, records types.Iterator[*types.ChangeRecord],
) (*types.IncomingBatch, error) {
	if err := drain(ctx, records); err != nil {
		if _, ok := types.IsParseError(err); ok {
			parseErrors.Inc()
		}
		return nil, err
	}
	ret, err := e.batches.IncrementSkip(ctx, prev.NodeID, prev.BatchID)
	if err != nil {
		return nil, err
	}
	batchSkips.WithLabelValues(prev.NodeID).Inc()
	log.WithFields(log.Fields{
		"batch": ret,
		"skips": ret.SkipCount,
	}).Debug("skipped batch which was already loaded")
	return ret, nil
}

// A declarer reports the columns which the sender used to encode the
// rows of a table.
type declarer interface {
	Columns(table string) (columns, keys []string, ok bool)
}

// loader holds the state of a single batch.
type loader struct {
	*Engine
	batch    *types.IncomingBatch
	declared declarer // May be nil.
	layouts  map[string]*layout
	policy   Policy
	row      int64
	tx       *sql.Tx
}

// run applies the records in a single transaction. Failures to apply a
// record are reflected in the batch status. An error is returned only
// if the records could not be read.
func (l *loader) run(ctx context.Context, records types.Iterator[*types.ChangeRecord]) error {
	tx, err := l.target.BeginTx(ctx, nil)
	if err != nil {
		l.fail(0, err)
		return drain(ctx, records)
	}
	defer func() { _ = tx.Rollback() }()
	l.tx = tx

	halted := false
	for {
		rec, ok, err := records.Next(ctx)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		// Keep reading to find the end of the batch.
		if halted {
			continue
		}
		l.row++
		l.batch.StatementCount++
		if l.batch.Channel == "" {
			l.batch.Channel = rec.Channel
		}

		outcome, err := l.apply(ctx, rec)
		if err == nil {
			rowOutcomes.WithLabelValues(rec.Table, outcome).Inc()
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.schema.invalidate(rec.Table)
		if l.policy.OnError == OnErrorRecord {
			recErr := l.record(ctx, rec, err)
			if recErr == nil {
				rowOutcomes.WithLabelValues(rec.Table, outcomeRecorded).Inc()
				continue
			}
			err = recErr
		}
		l.fail(l.row, err)
		halted = true
	}
	if counter, ok := records.(interface{ ByteCount() int64 }); ok {
		l.batch.ByteCount = counter.ByteCount()
	}
	l.batch.EndTime = l.now()
	if halted {
		return nil
	}
	if err := l.applied.Record(ctx, tx, l.stmts, l.batch); err != nil {
		l.fail(0, err)
		return nil
	}
	if err := tx.Commit(); err != nil {
		l.fail(0, err)
		return nil
	}
	l.batch.Status = types.BatchOK
	return nil
}

// fail marks the batch as being in error.
func (l *loader) fail(row int64, err error) {
	l.batch.Status = types.BatchError
	l.batch.FailedRowNumber = row
	l.batch.SQLState, l.batch.SQLCode, l.batch.SQLMessage = l.target.Dialect.SQLState(err)
	if l.batch.SQLMessage == "" {
		l.batch.SQLMessage = err.Error()
	}
}

// record writes the failed row to the incoming-error table.
func (l *loader) record(ctx context.Context, rec *types.ChangeRecord, cause error) error {
	resolution := types.ResolveManual
	if l.policy.Resolve == ResolveIgnore {
		resolution = types.ResolveIgnore
	}
	row := &types.IncomingError{
		BatchID:         l.batch.BatchID,
		NodeID:          l.batch.NodeID,
		FailedRowNumber: l.row,
		Table:           rec.Table,
		Event:           rec.Event,
		RowData:         rec.RowData,
		OldData:         rec.OldData,
		PKData:          rec.PKData,
		Resolution:      resolution,
		CreateTime:      l.now(),
	}
	row.SQLState, row.SQLCode, row.SQLMessage = l.target.Dialect.SQLState(cause)
	if _, err := l.exec(ctx, l.errors.insert, nil, func(ctx context.Context) error {
		return l.errors.Record(ctx, l.tx, l.stmts, row)
	}); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"batch":      l.batch,
		"resolution": resolution,
		"row":        l.row,
		"table":      rec.Table,
	}).Warn("row set aside: ", row.SQLMessage)
	return nil
}

// apply executes a single record, falling back as the policy allows.
// It returns the row outcome.
func (l *loader) apply(ctx context.Context, rec *types.ChangeRecord) (string, error) {
	lay, err := l.layout(ctx, rec.Table)
	if err != nil {
		return "", err
	}
	switch rec.Event {
	case types.EventInsert:
		return l.insert(ctx, lay, rec)
	case types.EventUpdate:
		return l.update(ctx, lay, rec)
	case types.EventDelete:
		return l.delete(ctx, lay, rec)
	default:
		return "", errors.Errorf("unknown event type %s", rec.Event)
	}
}

func (l *loader) insert(ctx context.Context, lay *layout, rec *types.ChangeRecord) (string, error) {
	if err := lay.checkRow(rec.RowData); err != nil {
		return "", err
	}
	_, err := l.exec(ctx, lay.sql.insert, args(rec.RowData), nil)
	if err == nil {
		return outcomeApplied, nil
	}
	if l.target.Dialect.Classify(err) != types.ErrorDuplicateKey {
		return "", err
	}
	switch l.policy.Resolve {
	case ResolveIgnore:
		l.batch.IgnoreCount++
		return outcomeIgnored, nil
	case ResolveManual:
		return "", errors.Wrapf(err, "conflict inserting into %s", lay.table)
	}

	// Fall back to an update of the existing row. A failure here is not
	// chased any further.
	keys, err := lay.project(rec.RowData)
	if err != nil {
		return "", err
	}
	n, err := l.exec(ctx, lay.sql.update, append(args(rec.RowData), args(keys)...), nil)
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", errors.Errorf("fallback update of %s matched no rows", lay.table)
	}
	l.batch.FallbackUpdateCount++
	return outcomeFallbackUpdate, nil
}

func (l *loader) update(ctx context.Context, lay *layout, rec *types.ChangeRecord) (string, error) {
	if err := lay.checkRow(rec.RowData); err != nil {
		return "", err
	}
	keys, err := lay.keyValues(rec)
	if err != nil {
		return "", err
	}
	n, err := l.exec(ctx, lay.sql.update, append(args(rec.RowData), args(keys)...), nil)
	if err != nil {
		return "", err
	}
	if n > 0 {
		return outcomeApplied, nil
	}
	switch l.policy.Resolve {
	case ResolveIgnore:
		l.batch.IgnoreCount++
		return outcomeIgnored, nil
	case ResolveManual:
		return "", errors.Errorf("conflict updating %s: no row matched", lay.table)
	}

	// Fall back to inserting the row. A conflict here is not chased
	// any further.
	if _, err := l.exec(ctx, lay.sql.insert, args(rec.RowData), nil); err != nil {
		return "", err
	}
	l.batch.FallbackInsertCount++
	return outcomeFallbackInsert, nil
}

func (l *loader) delete(ctx context.Context, lay *layout, rec *types.ChangeRecord) (string, error) {
	keys, err := lay.keyValues(rec)
	if err != nil {
		return "", err
	}
	n, err := l.exec(ctx, lay.sql.delete, args(keys), nil)
	if err != nil {
		return "", err
	}
	if n == 0 {
		l.batch.MissingDeleteCount++
		return outcomeMissingDelete, nil
	}
	return outcomeApplied, nil
}

const (
	savepointCreate   = "SAVEPOINT trigsync_row"
	savepointRelease  = "RELEASE SAVEPOINT trigsync_row"
	savepointRollback = "ROLLBACK TO SAVEPOINT trigsync_row"
)

// exec runs a statement within the batch transaction and returns the
// number of rows affected. If fn is not nil, it is called instead of
// executing q. On dialects where an error aborts the transaction, the
// statement is wrapped in a savepoint so that the transaction remains
// usable afterwards.
func (l *loader) exec(
	ctx context.Context, q string, values []any, fn func(context.Context) error,
) (int64, error) {
	savepoint := l.target.Dialect.SavepointPerStatement()
	if savepoint {
		if _, err := l.tx.ExecContext(ctx, savepointCreate); err != nil {
			return 0, errors.WithStack(err)
		}
	}

	var affected int64
	err := func() error {
		if fn != nil {
			return fn(ctx)
		}
		stmt, err := l.stmts.Prepare(ctx, l.tx, q, func() (string, error) { return q, nil })
		if err != nil {
			return err
		}
		res, err := stmt.ExecContext(ctx, values...)
		if err != nil {
			return errors.WithStack(err)
		}
		affected, err = res.RowsAffected()
		return errors.WithStack(err)
	}()

	if savepoint {
		if err != nil {
			if _, rbErr := l.tx.ExecContext(ctx, savepointRollback); rbErr != nil {
				return 0, errors.Wrapf(rbErr, "could not roll back after %v", err)
			}
		} else if _, relErr := l.tx.ExecContext(ctx, savepointRelease); relErr != nil {
			return 0, errors.WithStack(relErr)
		}
	}
	return affected, err
}

// layout returns the statements for a table, as it is encoded in this
// batch.
func (l *loader) layout(ctx context.Context, table string) (*layout, error) {
	if found, ok := l.layouts[table]; ok {
		return found, nil
	}
	info, err := l.schema.get(ctx, table)
	if err != nil {
		return nil, err
	}
	var cols, keys []string
	declared := false
	if l.declared != nil {
		cols, keys, declared = l.declared.Columns(table)
	}
	ret, err := newLayout(info, cols, keys, declared, l.target.Dialect)
	if err != nil {
		return nil, err
	}
	l.layouts[table] = ret
	return ret, nil
}

// layout maps the values of a record onto a target table.
type layout struct {
	table   ident.Table
	columns []string // Target column names, in record order.
	keys    []string // Target key column names.
	keyIdx  []int    // Position of each key within columns, or -1.
	sql     struct {
		delete string
		insert string
		update string
	}
}

// newLayout resolves the declared column names against the target
// table. If no columns were declared, records are expected to carry
// every column of the target table in its natural order.
func newLayout(
	info *tableInfo, declCols, declKeys []string, declared bool, d types.Dialect,
) (*layout, error) {
	ret := &layout{table: info.name}
	if declared {
		for _, name := range declCols {
			col, ok := info.column(name)
			if !ok {
				return nil, errors.Errorf("column %s does not exist in %s", name, info.name)
			}
			ret.columns = append(ret.columns, col.Name)
		}
	} else {
		for _, col := range info.columns {
			ret.columns = append(ret.columns, col.Name)
		}
	}

	if declared && len(declKeys) > 0 {
		for _, name := range declKeys {
			col, ok := info.column(name)
			if !ok {
				return nil, errors.Errorf("key %s does not exist in %s", name, info.name)
			}
			ret.keys = append(ret.keys, col.Name)
		}
	} else {
		ret.keys = info.keys
	}
	if len(ret.keys) == 0 {
		return nil, errors.Errorf("table %s has no primary key", info.name)
	}
	for _, key := range ret.keys {
		ret.keyIdx = append(ret.keyIdx, indexOf(ret.columns, key))
	}

	cols := ident.NewIdents(ret.columns...)
	keys := ident.NewIdents(ret.keys...)

	var where strings.Builder
	whereFrom := func(start int) string {
		where.Reset()
		for i, key := range keys {
			if i > 0 {
				where.WriteString(" AND ")
			}
			fmt.Fprintf(&where, "%s = %s", key, d.Placeholder(start+i))
		}
		return where.String()
	}

	params := make([]string, len(cols))
	sets := make([]string, len(cols))
	for i, col := range cols {
		params[i] = d.Placeholder(i + 1)
		sets[i] = fmt.Sprintf("%s = %s", col, params[i])
	}

	ret.sql.insert = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		info.name, cols.Join(", "), strings.Join(params, ", "))
	ret.sql.update = fmt.Sprintf("UPDATE %s SET %s WHERE %s",
		info.name, strings.Join(sets, ", "), whereFrom(len(cols)+1))
	ret.sql.delete = fmt.Sprintf("DELETE FROM %s WHERE %s",
		info.name, whereFrom(1))
	return ret, nil
}

// checkRow ensures that a row has a value for every column.
func (lay *layout) checkRow(row []types.Value) error {
	if len(row) != len(lay.columns) {
		return errors.Errorf("row has %d values, expected %d for %s",
			len(row), len(lay.columns), lay.table)
	}
	return nil
}

// keyValues returns the values which identify the row to update or
// delete.
func (lay *layout) keyValues(rec *types.ChangeRecord) ([]types.Value, error) {
	if len(rec.PKData) > 0 {
		if len(rec.PKData) != len(lay.keys) {
			return nil, errors.Errorf("record has %d key values, expected %d for %s",
				len(rec.PKData), len(lay.keys), lay.table)
		}
		return rec.PKData, nil
	}
	if len(rec.OldData) > 0 {
		return lay.project(rec.OldData)
	}
	return lay.project(rec.RowData)
}

// project extracts the key values from a full row.
func (lay *layout) project(row []types.Value) ([]types.Value, error) {
	ret := make([]types.Value, len(lay.keys))
	for i, idx := range lay.keyIdx {
		if idx < 0 || idx >= len(row) {
			return nil, errors.Errorf("no value for key %s of %s", lay.keys[i], lay.table)
		}
		ret[i] = row[idx]
	}
	return ret, nil
}

// args converts values to driver arguments.
func args(vals []types.Value) []any {
	ret := make([]any, len(vals))
	for i, v := range vals {
		if v != nil {
			ret[i] = *v
		}
	}
	return ret
}

// drain consumes the remaining records of a batch.
func drain(ctx context.Context, records types.Iterator[*types.ChangeRecord]) error {
	for {
		_, ok, err := records.Next(ctx)
		if err != nil || !ok {
			return err
		}
	}
}
