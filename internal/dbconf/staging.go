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
	"context"
	"fmt"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/cockroachdb/trigsync/internal/util/stdpool"
	"github.com/spf13/pflag"
)

// StagingSchemaDefault is the schema which holds the lock table, the
// change log, and the other bookkeeping tables.
var StagingSchemaDefault = ident.MustSchema(ident.New("_trigsync"))

// StagingConfig describes the staging database. It must be a
// PostgreSQL-compatible database.
type StagingConfig struct {
	CommonConfig
	// Create the staging schema if it does not exist.
	CreateSchema bool
	// The name of a SQL schema in the staging database to store
	// metadata in.
	Schema ident.Schema
}

// Bind adds flags to the set.
func (c *StagingConfig) Bind(f *pflag.FlagSet) {
	c.CommonConfig.bind(f, "staging")
	c.Schema = StagingSchemaDefault
	f.BoolVar(&c.CreateSchema, "stagingCreateSchema", false,
		"automatically create the staging schema if it does not exist")
	f.Var(ident.NewSchemaFlag(&c.Schema), "stagingSchema",
		"a SQL database schema to store metadata in")
}

// Preflight applies defaults and validates the configuration.
func (c *StagingConfig) Preflight() error {
	if err := c.CommonConfig.preflight("staging", true); err != nil {
		return err
	}
	if c.Schema.Empty() {
		c.Schema = StagingSchemaDefault
	}
	return nil
}

// ProvideStagingPool is called by Wire.
func ProvideStagingPool(
	ctx *stopper.Context, config *StagingConfig,
) (*types.StagingPool, error) {
	if err := config.Preflight(); err != nil {
		return nil, err
	}
	ret, err := stdpool.OpenPgxAsStaging(ctx,
		config.Conn,
		stdpool.WithConnectionLifetime(config.MaxLifetime, config.IdleTime, config.JitterTime),
		stdpool.WithMetrics("staging"),
		stdpool.WithPoolSize(config.MaxPoolSize),
		stdpool.WithTransactionTimeout(defaultTxTimeout), // Staging shouldn't take that much time.
	)
	if err != nil {
		return nil, err
	}

	if config.CreateSchema {
		if err := retry.Execute(ctx, ret, fmt.Sprintf(
			"CREATE SCHEMA IF NOT EXISTS %s", config.Schema)); err != nil {
			return nil, err
		}
	}
	return ret, nil
}

// ProvideStagingSchema is called by Wire.
func ProvideStagingSchema(
	_ context.Context, config *StagingConfig, _ *types.StagingPool,
) ident.StagingSchema {
	return ident.StagingSchema(config.Schema)
}
