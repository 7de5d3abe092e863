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

package gaps

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/trigsync/internal/types"
)

// MemoryStore is an in-memory [types.GapStore], used for testing.
type MemoryStore struct {
	mu      sync.Mutex
	spaces  map[string]types.GapSnapshot
	history []types.DataGap
}

var _ types.GapStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{spaces: make(map[string]types.GapSnapshot)}
}

// DeleteHistory implements [types.GapStore].
func (m *MemoryStore) DeleteHistory(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var count int64
	kept := m.history[:0]
	for _, gap := range m.history {
		if gap.LastUpdate.Before(before) {
			count++
			continue
		}
		kept = append(kept, gap)
	}
	m.history = kept
	return count, nil
}

// History returns the closed gaps which have been saved.
func (m *MemoryStore) History() []types.DataGap {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.DataGap(nil), m.history...)
}

// Load implements [types.GapStore].
func (m *MemoryStore) Load(_ context.Context, space string) (types.GapSnapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.spaces[space]
	snap.Gaps = append([]types.DataGap(nil), snap.Gaps...)
	return snap, ok, nil
}

// Save implements [types.GapStore].
func (m *MemoryStore) Save(
	_ context.Context, space string, snap types.GapSnapshot, closed []types.DataGap,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.Gaps = append([]types.DataGap(nil), snap.Gaps...)
	m.spaces[space] = snap
	m.history = append(m.history, closed...)
	return nil
}
