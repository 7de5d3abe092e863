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

import "github.com/cockroachdb/trigsync/internal/types"

// GroupByTransaction partitions records into transactions, ordered by
// the first appearance of each transaction. Records within a group
// retain their relative order. Records without a transaction id each
// form a group of their own, so a source which cannot report
// transaction ids gets only per-record ordering.
func GroupByTransaction(records []*types.ChangeRecord) [][]*types.ChangeRecord {
	var ret [][]*types.ChangeRecord
	seen := make(map[string]int)
	for _, rec := range records {
		if rec.TransactionID == nil {
			ret = append(ret, []*types.ChangeRecord{rec})
			continue
		}
		if idx, ok := seen[*rec.TransactionID]; ok {
			ret[idx] = append(ret[idx], rec)
			continue
		}
		seen[*rec.TransactionID] = len(ret)
		ret = append(ret, []*types.ChangeRecord{rec})
	}
	return ret
}
