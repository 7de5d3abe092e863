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

// Package capture defines the contract which source-side triggers
// satisfy when recording row mutations into the change log.
package capture

import (
	"context"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DefaultChannel is used for tables which are not assigned a channel.
const DefaultChannel = "default"

// Table describes a captured table.
type Table struct {
	Name    string
	Channel string // Defaults to DefaultChannel.
	Columns []types.Column
}

// keys returns the indexes of the primary-key columns.
func (t *Table) keys() []int {
	var ret []int
	for idx, col := range t.Columns {
		if col.PrimaryKey {
			ret = append(ret, idx)
		}
	}
	return ret
}

// Mutation is a row change as reported by a trigger.
type Mutation struct {
	Event types.EventType
	// Old holds every column's value before an UPDATE or DELETE.
	Old []types.Value
	// New holds every column's value after an INSERT or UPDATE.
	New []types.Value
	// Touched reports, per column, whether the writing statement
	// assigned the column. It may be nil, in which case every column is
	// considered touched.
	Touched       []bool
	TransactionID *string
	ExternalData  string
}

// syncDisabled is a context key.
type syncDisabled struct{}

// WithSyncDisabled returns a context in which capture is suppressed.
// Loaders use this so that replayed rows do not echo back to their
// origin.
func WithSyncDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, syncDisabled{}, true)
}

// SyncDisabled returns true if the context was created by
// WithSyncDisabled.
func SyncDisabled(ctx context.Context) bool {
	ret, _ := ctx.Value(syncDisabled{}).(bool)
	return ret
}

// Recorder turns mutations into change records and appends them to a
// change log.
type Recorder struct {
	cmp *Comparator
	log types.ChangeLog
	now func() time.Time
}

// NewRecorder constructs a Recorder.
func NewRecorder(dialect types.Dialect, changes types.ChangeLog) *Recorder {
	return &Recorder{
		cmp: NewComparator(dialect),
		log: changes,
		now: time.Now,
	}
}

// Capture records the mutation. It returns nil without error if the
// mutation was an UPDATE which changed nothing or if capture is
// disabled for the context.
func (r *Recorder) Capture(
	ctx context.Context, tbl *Table, mut *Mutation,
) (*types.ChangeRecord, error) {
	if SyncDisabled(ctx) {
		return nil, nil
	}
	rec, err := r.build(tbl, mut)
	if err != nil || rec == nil {
		return nil, err
	}

	start := time.Now()
	id, err := r.log.Append(ctx, rec)
	if err != nil {
		return nil, errors.Wrapf(err, "could not capture %s into %s", mut.Event, tbl.Name)
	}
	rec.SequenceID = id
	labels := []string{tbl.Name, mut.Event.String()}
	captureDurations.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
	captureRecords.WithLabelValues(labels...).Inc()
	return rec, nil
}

// build validates the mutation and constructs a record. A nil record
// is returned for a no-op UPDATE.
func (r *Recorder) build(tbl *Table, mut *Mutation) (*types.ChangeRecord, error) {
	width := len(tbl.Columns)
	keys := tbl.keys()
	if len(keys) == 0 {
		return nil, errors.Errorf("table %s has no primary key", tbl.Name)
	}
	if mut.Touched != nil && len(mut.Touched) != width {
		return nil, errors.Errorf("table %s: expecting %d touched flags, got %d",
			tbl.Name, width, len(mut.Touched))
	}

	rec := &types.ChangeRecord{
		Table:         tbl.Name,
		Event:         mut.Event,
		Channel:       tbl.Channel,
		TransactionID: mut.TransactionID,
		ExternalData:  mut.ExternalData,
		CreateTime:    r.now().UTC(),
	}
	if rec.Channel == "" {
		rec.Channel = DefaultChannel
	}

	switch mut.Event {
	case types.EventInsert:
		if len(mut.New) != width {
			return nil, errors.Errorf("table %s: expecting %d new values, got %d",
				tbl.Name, width, len(mut.New))
		}
		rec.RowData = mut.New
		rec.PKData = pick(mut.New, keys)

	case types.EventUpdate:
		if len(mut.New) != width || len(mut.Old) != width {
			return nil, errors.Errorf("table %s: expecting %d old and new values, got %d and %d",
				tbl.Name, width, len(mut.Old), len(mut.New))
		}
		if !r.changed(tbl, mut) {
			suppressedUpdates.WithLabelValues(tbl.Name).Inc()
			log.Tracef("suppressed no-op update to %s", tbl.Name)
			return nil, nil
		}
		rec.RowData = mut.New
		rec.OldData = mut.Old
		// The old key identifies the row at the destination, even if
		// the update modified the key.
		rec.PKData = pick(mut.Old, keys)

	case types.EventDelete:
		if len(mut.Old) != width {
			return nil, errors.Errorf("table %s: expecting %d old values, got %d",
				tbl.Name, width, len(mut.Old))
		}
		rec.OldData = mut.Old
		rec.PKData = pick(mut.Old, keys)

	default:
		return nil, errors.Errorf("table %s: unsupported event %s", tbl.Name, mut.Event)
	}

	for idx, key := range keys {
		if rec.PKData[idx] == nil {
			return nil, errors.Errorf("table %s: key column %s is null",
				tbl.Name, tbl.Columns[key].Name)
		}
	}
	return rec, nil
}

// changed returns true if any column, key columns included, differs.
func (r *Recorder) changed(tbl *Table, mut *Mutation) bool {
	for idx, col := range tbl.Columns {
		touched := mut.Touched == nil || mut.Touched[idx]
		if r.cmp.Changed(col, mut.Old[idx], mut.New[idx], touched) {
			return true
		}
	}
	return false
}

func pick(values []types.Value, idxs []int) []types.Value {
	ret := make([]types.Value, len(idxs))
	for i, idx := range idxs {
		ret[i] = values[idx]
	}
	return ret
}
