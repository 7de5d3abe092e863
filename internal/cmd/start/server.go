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

package start

import (
	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/gaps"
	"github.com/cockroachdb/trigsync/internal/purge"
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/cockroachdb/trigsync/internal/source/inbox"
	"github.com/cockroachdb/trigsync/internal/util/diag"
	log "github.com/sirupsen/logrus"
)

// A Server runs the background jobs of one node.
type Server struct {
	Detector *gaps.Detector
	Engine   *replay.Engine
	Inbox    *inbox.Inbox // Nil if no inbox is configured.
	Locks    *cluster.Manager
	Purger   *purge.Purger
}

// ProvideServer is called by Wire. It registers the components'
// diagnostics and starts the jobs, which run until the context is
// stopped.
func ProvideServer(
	ctx *stopper.Context,
	config *Config,
	diags *diag.Diagnostics,
	detector *gaps.Detector,
	engine *replay.Engine,
	box *inbox.Inbox,
	locks *cluster.Manager,
	purger *purge.Purger,
) (*Server, error) {
	ret := &Server{
		Detector: detector,
		Engine:   engine,
		Inbox:    box,
		Locks:    locks,
		Purger:   purger,
	}
	if err := diags.Register("gaps", detector); err != nil {
		return nil, err
	}
	if err := diags.Register("locks", locks); err != nil {
		return nil, err
	}
	if box != nil {
		if err := diags.Register("inbox", box); err != nil {
			return nil, err
		}
	}

	if config.DisableJobs {
		log.Info("gap detection and purge jobs are disabled on this node")
	} else {
		detector.Start(ctx, locks)
		purger.Start(ctx, locks)
	}
	if box != nil {
		box.Start(ctx, locks)
	}
	log.WithField("server", config.Cluster.ServerID).Info("node started")
	return ret, nil
}
