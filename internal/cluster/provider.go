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

package cluster

import (
	"context"

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideManager,
	wire.Bind(new(types.Locks), new(*Manager)),
)

// ProvideManager is called by Wire. The returned Manager has been
// initialized, so abandoned locks have already been cleared.
func ProvideManager(
	ctx context.Context, cfg *Config, pool *types.StagingPool, staging ident.StagingSchema,
) (*Manager, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	ret, err := New(ctx, cfg, pool, staging)
	if err != nil {
		return nil, err
	}
	if err := ret.Init(ctx); err != nil {
		return nil, err
	}
	return ret, nil
}
