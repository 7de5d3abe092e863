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

package capture

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
)

// MemoryLog is an in-memory [types.ChangeLog], used for testing. Ids
// may be reserved and then inserted later or never, to model
// transactions which commit out of order or roll back.
type MemoryLog struct {
	mu      sync.Mutex
	next    int64
	records map[int64]*types.ChangeRecord
}

var _ types.ChangeLog = (*MemoryLog)(nil)

// NewMemoryLog returns an empty log whose first id will be start.
func NewMemoryLog(start int64) *MemoryLog {
	return &MemoryLog{next: start, records: make(map[int64]*types.ChangeRecord)}
}

// Reserve allocates an id without making a record visible.
func (m *MemoryLog) Reserve() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	ret := m.next
	m.next++
	return ret
}

// Insert makes a record visible with a previously reserved id.
func (m *MemoryLog) Insert(id int64, rec *types.ChangeRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cpy := *rec
	cpy.SequenceID = id
	if cpy.CreateTime.IsZero() {
		cpy.CreateTime = time.Now().UTC()
	}
	m.records[id] = &cpy
	if id >= m.next {
		m.next = id + 1
	}
}

// Append implements [types.ChangeLog].
func (m *MemoryLog) Append(_ context.Context, rec *types.ChangeRecord) (int64, error) {
	id := m.Reserve()
	m.Insert(id, rec)
	return id, nil
}

// Bounds implements [types.ChangeLog].
func (m *MemoryLog) Bounds(_ context.Context) (lo, hi int64, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.records {
		if !ok || id < lo {
			lo = id
		}
		if !ok || id > hi {
			hi = id
		}
		ok = true
	}
	return lo, hi, ok, nil
}

// DeleteRange implements [types.ChangeLog].
func (m *MemoryLog) DeleteRange(ctx context.Context, rng types.Range, limit int) (int64, error) {
	ids, _ := m.IDs(ctx, rng, limit)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.records, id)
	}
	changeLogDeletes.Add(float64(len(ids)))
	return int64(len(ids)), nil
}

// IDs implements [types.ChangeLog].
func (m *MemoryLog) IDs(_ context.Context, rng types.Range, limit int) ([]int64, error) {
	if rng.Blocked() || rng.Empty() {
		return nil, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []int64
	for _, id := range m.sortedLocked() {
		if id < rng.Start || id > rng.End {
			continue
		}
		ret = append(ret, id)
		if limit > 0 && len(ret) == limit {
			break
		}
	}
	return ret, nil
}

// MaxIDBefore implements [types.ChangeLog].
func (m *MemoryLog) MaxIDBefore(_ context.Context, before time.Time) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret int64
	found := false
	for id, rec := range m.records {
		if rec.CreateTime.Before(before) && (!found || id > ret) {
			ret = id
			found = true
		}
	}
	return ret, found, nil
}

// Scan implements [types.ChangeLog].
func (m *MemoryLog) Scan(_ context.Context, after int64, limit int) ([]*types.ChangeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ret []*types.ChangeRecord
	for _, id := range m.sortedLocked() {
		if id <= after {
			continue
		}
		cpy := *m.records[id]
		ret = append(ret, &cpy)
		if limit > 0 && len(ret) == limit {
			break
		}
	}
	return ret, nil
}

func (m *MemoryLog) sortedLocked() []int64 {
	ret := make([]int64, 0, len(m.records))
	for id := range m.records {
		ret = append(ret, id)
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i] < ret[j] })
	return ret
}
