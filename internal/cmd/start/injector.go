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

//go:build wireinject
// +build wireinject

package start

import (
	"context"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/capture"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/dbconf"
	"github.com/cockroachdb/trigsync/internal/gaps"
	"github.com/cockroachdb/trigsync/internal/purge"
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/cockroachdb/trigsync/internal/source/inbox"
	"github.com/cockroachdb/trigsync/internal/staging/memo"
	"github.com/cockroachdb/trigsync/internal/util/diag"
	"github.com/google/wire"
)

// NewServer assembles and starts a node.
func NewServer(
	ctx *stopper.Context, config *Config, diags *diag.Diagnostics,
) (*Server, error) {
	panic(wire.Build(
		wire.Bind(new(context.Context), new(*stopper.Context)),
		wire.FieldsOf(new(*Config),
			"Cluster", "Gaps", "Inbox", "Purge", "Replay", "Staging", "Target"),
		ProvideServer,
		capture.Set,
		cluster.Set,
		dbconf.Set,
		gaps.Set,
		inbox.Set,
		memo.Set,
		purge.Set,
		replay.Set,
	))
}
