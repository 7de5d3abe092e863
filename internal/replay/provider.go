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

	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/google/wire"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideBatches,
	ProvideEngine,
	wire.Bind(new(types.IncomingBatches), new(*Batches)),
)

// ProvideBatches is called by Wire.
func ProvideBatches(
	ctx context.Context, pool *types.StagingPool, staging ident.StagingSchema,
) (*Batches, error) {
	return NewBatches(ctx, pool, staging)
}

// ProvideEngine is called by Wire.
func ProvideEngine(
	ctx context.Context,
	cfg *Config,
	batches types.IncomingBatches,
	locks types.Locks,
	target *types.TargetPool,
	stmts *types.TargetStatements,
) (*Engine, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	return New(ctx, cfg, batches, locks, target, stmts)
}
