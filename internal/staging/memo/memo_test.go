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
	"context"
	"testing"

	"github.com/cockroachdb/trigsync/internal/nodetest"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
)

func checkMemo(t *testing.T, ctx context.Context, m types.Memo) {
	a := assert.New(t)

	got, err := m.Get(ctx, "missing")
	a.NoError(err)
	a.Nil(got)

	a.NoError(m.Put(ctx, "k", []byte("one")))
	got, err = m.Get(ctx, "k")
	a.NoError(err)
	a.Equal([]byte("one"), got)

	a.NoError(m.Put(ctx, "k", []byte("two")))
	got, err = m.Get(ctx, "k")
	a.NoError(err)
	a.Equal([]byte("two"), got)

	a.NoError(m.Put(ctx, "empty", nil))
	got, err = m.Get(ctx, "empty")
	a.NoError(err)
	a.Empty(got)
}

func TestMemory(t *testing.T) {
	checkMemo(t, context.Background(), &Memory{})
}

func TestMemo(t *testing.T) {
	fixture := nodetest.NewFixture(t)
	m, err := ProvideMemo(fixture.Context, fixture.StagingPool, fixture.Staging)
	if !assert.NoError(t, err) {
		return
	}
	checkMemo(t, fixture.Context, m)
}
