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

package load

import (
	"testing"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReport(t *testing.T) {
	a := assert.New(t)
	a.Zero(report("empty", nil))
	a.Equal(1, report("batches", []*types.IncomingBatch{
		{BatchID: 1, NodeID: "store-001", Status: types.BatchOK},
		{BatchID: 2, NodeID: "store-001", Status: types.BatchError, FailedRowNumber: 3},
		{BatchID: 3, NodeID: "store-001", Status: types.BatchOK, SkipCount: 2},
	}))
}

func TestCommandRequiresConnections(t *testing.T) {
	r := require.New(t)
	cmd := Command()
	cmd.SetArgs([]string{"does-not-exist.batch"})
	cmd.SilenceUsage = true
	r.ErrorContains(cmd.Execute(), "stagingConn must be set")
}
