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

// Package nodetest provides fixtures for tests which need a staging
// database. Tests are skipped when no staging database is configured.
package nodetest

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/cockroachdb/trigsync/internal/util/ident"
	"github.com/cockroachdb/trigsync/internal/util/retry"
	"github.com/cockroachdb/trigsync/internal/util/stdpool"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// EnvStaging names the environment variable consulted when the
// -stagingConnect flag is not set.
const EnvStaging = "TRIGSYNC_STAGING_CONN"

var (
	connString = flag.String("stagingConnect", "",
		"a postgresql:// connection string for tests which need a staging database")
	caseTimeout = flag.Duration("caseTimeout", 2*time.Minute,
		"raise this value when debugging to allow individual tests to run longer")
)

// A global counter so that all schemas in a test run are unique.
var schemaCounter int32

// Fixture bundles the services needed by tests of the staging tables.
type Fixture struct {
	Context     *stopper.Context
	StagingPool *types.StagingPool
	Staging     ident.StagingSchema
}

// Context returns a stopper which is stopped when the test ends.
func Context(t testing.TB) *stopper.Context {
	t.Helper()
	base, cancel := context.WithTimeout(context.Background(), *caseTimeout)
	ctx := stopper.WithContext(base)
	t.Cleanup(func() {
		ctx.Stop(time.Second)
		_ = ctx.Wait()
		cancel()
	})
	return ctx
}

// NewFixture connects to the staging database and creates a schema
// which is dropped when the test ends. The test is skipped if no
// staging database has been configured.
func NewFixture(t testing.TB) *Fixture {
	t.Helper()
	conn := *connString
	if conn == "" {
		conn = os.Getenv(EnvStaging)
	}
	if conn == "" {
		t.Skipf("set -stagingConnect or %s to run this test", EnvStaging)
	}

	ctx := Context(t)
	pool, err := stdpool.OpenPgxAsStaging(ctx, conn, stdpool.WithPoolSize(8))
	if err != nil {
		t.Fatal(err)
	}

	name := fmt.Sprintf("_trigsync_test_%d_%d", os.Getpid(), atomic.AddInt32(&schemaCounter, 1))
	schema := ident.MustSchema(ident.New(name))
	if err := retry.Execute(ctx, pool, fmt.Sprintf("CREATE SCHEMA %s", schema)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		// The test context may already be stopped.
		cleanup, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := pool.Exec(cleanup, fmt.Sprintf("DROP SCHEMA %s CASCADE", schema)); err != nil {
			log.WithError(err).Warnf("could not drop %s", schema)
		}
	})

	return &Fixture{
		Context:     ctx,
		StagingPool: pool,
		Staging:     ident.StagingSchema(schema),
	}
}

// CounterValue returns the current value of a counter.
func CounterValue(t testing.TB, counter prometheus.Counter) int {
	t.Helper()
	var metric dto.Metric
	require.NoError(t, counter.Write(&metric))
	return int(metric.GetCounter().GetValue())
}
