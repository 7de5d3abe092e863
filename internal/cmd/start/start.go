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

// Package start contains the command to run a node.
package start

import (
	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/util/diag"
	"github.com/cockroachdb/trigsync/internal/util/stdcmd"
	"github.com/spf13/cobra"
)

// Command returns the command to run a node.
func Command() *cobra.Command {
	var cfg Config
	return stdcmd.New(&stdcmd.Template{
		Config:  &cfg,
		Metrics: ":30010",
		Short:   "run gap detection, purge jobs and the batch inbox",
		Start: func(ctx *stopper.Context, _ *cobra.Command, diags *diag.Diagnostics) error {
			if err := cfg.Preflight(); err != nil {
				return err
			}
			_, err := NewServer(ctx, &cfg, diags)
			return err
		},
		Use: "start",
	})
}
