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

package dbconf

import (
	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/stdpool"
	"github.com/cockroachdb/trigsync/internal/util/stmtcache"
	"github.com/spf13/pflag"
)

// TargetConfig describes the database into which batches are loaded.
type TargetConfig struct {
	CommonConfig

	// The number of prepared statements to retain in the target
	// database connection pool.
	StatementCacheSize int
}

// Bind adds flags to the set.
func (c *TargetConfig) Bind(f *pflag.FlagSet) {
	c.CommonConfig.bind(f, "target")
	f.IntVar(&c.StatementCacheSize, "targetStatementCacheSize", defaultCacheSize,
		"the maximum number of prepared statements to retain")
}

// Preflight applies defaults and validates the configuration.
func (c *TargetConfig) Preflight() error {
	if err := c.CommonConfig.preflight("target", true); err != nil {
		return err
	}
	if c.StatementCacheSize <= 0 {
		c.StatementCacheSize = defaultCacheSize
	}
	return nil
}

// ProvideTargetPool is called by Wire.
func ProvideTargetPool(ctx *stopper.Context, config *TargetConfig) (*types.TargetPool, error) {
	if err := config.Preflight(); err != nil {
		return nil, err
	}
	return stdpool.OpenTarget(ctx, config.Conn,
		stdpool.WithConnectionLifetime(config.MaxLifetime, config.IdleTime, config.JitterTime),
		stdpool.WithMetrics("target"),
		stdpool.WithPoolSize(config.MaxPoolSize),
	)
}

// ProvideStatementCache is called by Wire.
func ProvideStatementCache(
	ctx *stopper.Context, config *TargetConfig, pool *types.TargetPool,
) *types.TargetStatements {
	return &types.TargetStatements{
		Cache: stmtcache.New[string](ctx, pool.DB, config.StatementCacheSize),
	}
}
