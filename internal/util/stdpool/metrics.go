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

package stdpool

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	poolLabels = []string{"pool"}

	poolAcquiredCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_acquired_connection_count",
		Help: "the number of in-use database connections",
	}, poolLabels)
	poolIdleCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_idle_connection_count",
		Help: "the number of idle database connections",
	}, poolLabels)
	poolMaxCount = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pool_max_connection_count",
		Help: "the maximum number of connections in the pool",
	}, poolLabels)
)

// WithMetrics periodically exports connection counts under the given
// pool name until the context is stopped.
func WithMetrics(name string) Option {
	return Option{
		pgxPool: func(ctx context.Context, pool *pgxpool.Pool) {
			publish(ctx, name, func() (acquired, idle, max int) {
				stat := pool.Stat()
				return int(stat.AcquiredConns()), int(stat.IdleConns()), int(stat.MaxConns())
			})
		},
		sqlDB: func(ctx context.Context, db *sql.DB) {
			publish(ctx, name, func() (acquired, idle, max int) {
				stat := db.Stats()
				return stat.InUse, stat.Idle, stat.MaxOpenConnections
			})
		},
	}
}

func publish(ctx context.Context, name string, sample func() (acquired, idle, max int)) {
	labels := prometheus.Labels{"pool": name}
	acquiredCount := poolAcquiredCount.With(labels)
	idleCount := poolIdleCount.With(labels)
	maxCount := poolMaxCount.With(labels)

	stopper.From(ctx).Go(func(ctx *stopper.Context) error {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			acquired, idle, max := sample()
			acquiredCount.Set(float64(acquired))
			idleCount.Set(float64(idle))
			maxCount.Set(float64(max))

			select {
			case <-ctx.Stopping():
				return nil
			case <-ticker.C:
			}
		}
	})
}
