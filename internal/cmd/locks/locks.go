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

// Package locks contains commands to inspect and repair the cluster
// lock table.
package locks

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/dbconf"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/spf13/cobra"
)

// Command returns the locks command and its subcommands.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Short: "inspect the cluster lock table",
		Use:   "locks",
	}
	cmd.AddCommand(listCommand(), resetCommand())
	return cmd
}

func listCommand() *cobra.Command {
	var cfg dbconf.StagingConfig
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Short: "print the lock table",
		Use:   "list",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withManager(cmd.Context(), &cfg, &cluster.Config{},
				func(ctx context.Context, m *cluster.Manager) error {
					locks, err := m.FindLocks(ctx)
					if err != nil {
						return err
					}
					return printLocks(cmd.OutOrStdout(), locks)
				})
		},
	}
	cfg.Bind(cmd.Flags())
	return cmd
}

func resetCommand() *cobra.Command {
	var cfg dbconf.StagingConfig
	var serverID string
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Short: "release every lock held by a server which is known to be dead",
		Use:   "reset",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Initializing a manager as the dead server resets its locks.
			return withManager(cmd.Context(), &cfg, &cluster.Config{ServerID: serverID},
				func(context.Context, *cluster.Manager) error { return nil })
		},
	}
	cfg.Bind(cmd.Flags())
	cmd.Flags().StringVar(&serverID, "serverID", "", "the server whose locks should be released")
	_ = cmd.MarkFlagRequired("serverID")
	return cmd
}

func withManager(
	parent context.Context,
	staging *dbconf.StagingConfig,
	clusterCfg *cluster.Config,
	fn func(context.Context, *cluster.Manager) error,
) error {
	ctx := stopper.WithContext(parent)
	defer func() {
		ctx.Stop(time.Second)
		_ = ctx.Wait()
	}()
	pool, err := dbconf.ProvideStagingPool(ctx, staging)
	if err != nil {
		return err
	}
	schema := dbconf.ProvideStagingSchema(ctx, staging, pool)
	m, err := cluster.ProvideManager(ctx, clusterCfg, pool, schema)
	if err != nil {
		return err
	}
	return fn(ctx, m)
}

func printLocks(out io.Writer, locks []*types.Lock) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ACTION\tTYPE\tSERVER\tSINCE\tSHARED\tLAST SERVER\tLAST RELEASED")
	for _, l := range locks {
		server, since := "-", "-"
		if l.LockingServerID != "" {
			server = l.LockingServerID
		}
		if !l.Idle() {
			since = l.LockTime.Format(time.RFC3339)
		}
		last := "-"
		if !l.LastLockTime.IsZero() {
			last = l.LastLockTime.Format(time.RFC3339)
		}
		lastServer := l.LastLockingServerID
		if lastServer == "" {
			lastServer = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			l.Action, l.Type, server, since, l.SharedCount, lastServer, last)
	}
	return w.Flush()
}
