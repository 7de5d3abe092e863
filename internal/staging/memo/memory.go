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

package memo

import (
	"bytes"
	"context"
	"sync"

	"github.com/cockroachdb/trigsync/internal/types"
)

// Memory is an in-process [types.Memo] for tests and single-node use.
// The zero value is ready to use.
type Memory struct {
	mu     sync.Mutex
	values map[string][]byte
}

var _ types.Memo = (*Memory)(nil)

// Get implements [types.Memo]. A missing key returns nil.
func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	found, ok := m.values[key]
	if !ok {
		return nil, nil
	}
	return bytes.Clone(found), nil
}

// Put implements [types.Memo].
func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.values == nil {
		m.values = make(map[string][]byte)
	}
	if value == nil {
		value = []byte{}
	}
	m.values[key] = bytes.Clone(value)
	return nil
}
