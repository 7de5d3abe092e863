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
	"sync"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
)

type batchKey struct {
	nodeID  string
	batchID int64
}

// MemoryBatches is an in-memory implementation of
// [types.IncomingBatches].
type MemoryBatches struct {
	mu struct {
		sync.Mutex
		data map[batchKey]types.IncomingBatch
	}
}

var _ types.IncomingBatches = (*MemoryBatches)(nil)

// NewMemoryBatches constructs an empty MemoryBatches.
func NewMemoryBatches() *MemoryBatches {
	ret := &MemoryBatches{}
	ret.mu.data = make(map[batchKey]types.IncomingBatch)
	return ret
}

// Delete implements [types.IncomingBatches].
func (m *MemoryBatches) Delete(_ context.Context, nodeID string, batchID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mu.data, batchKey{nodeID, batchID})
	return nil
}

// DeleteBefore implements [types.IncomingBatches].
func (m *MemoryBatches) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	for key, b := range m.mu.data {
		if b.Status == types.BatchOK && !b.EndTime.IsZero() && b.EndTime.Before(before) {
			delete(m.mu.data, key)
			count++
		}
	}
	return count, nil
}

// Get implements [types.IncomingBatches].
func (m *MemoryBatches) Get(
	_ context.Context, nodeID string, batchID int64,
) (*types.IncomingBatch, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.mu.data[batchKey{nodeID, batchID}]
	if !ok {
		return nil, false, nil
	}
	return &b, true, nil
}

// IncrementSkip implements [types.IncomingBatches].
func (m *MemoryBatches) IncrementSkip(
	_ context.Context, nodeID string, batchID int64,
) (*types.IncomingBatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := batchKey{nodeID, batchID}
	b, ok := m.mu.data[key]
	if !ok {
		return nil, errors.Errorf("batch %s-%d not found", nodeID, batchID)
	}
	b.SkipCount++
	b.LastUpdate = time.Now().UTC()
	m.mu.data[key] = b
	return &b, nil
}

// Put implements [types.IncomingBatches].
func (m *MemoryBatches) Put(_ context.Context, b *types.IncomingBatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mu.data[batchKey{b.NodeID, b.BatchID}] = *b
	return nil
}
