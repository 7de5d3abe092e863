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

package purge

import (
	"github.com/cockroachdb/trigsync/internal/gaps"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvidePurger,
)

// ProvidePurger is called by Wire.
func ProvidePurger(
	cfg *Config,
	gapCfg *gaps.Config,
	batches types.IncomingBatches,
	changes types.ChangeLog,
	gapStore types.GapStore,
	locks types.Locks,
) (*Purger, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	return New(cfg, gapCfg, batches, changes, gapStore, locks), nil
}
