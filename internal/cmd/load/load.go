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

// Package load contains a command which applies batch files to the
// target database.
package load

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// Command returns the load command.
func Command() *cobra.Command {
	var cfg Config
	cmd := &cobra.Command{
		Args:  cobra.ArbitraryArgs,
		Short: "apply batch files to the target database",
		Long: `Each named file is read as a stream of batches and applied to the target.
A file named "-" or an empty argument list reads from stdin. The command
exits with an error if any batch could not be loaded.`,
		Use: "load [files...]",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Preflight(); err != nil {
				return err
			}
			ctx := stopper.WithContext(cmd.Context())
			defer func() {
				ctx.Stop(time.Second)
				_ = ctx.Wait()
			}()

			engine, err := NewEngine(ctx, &cfg)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				args = []string{"-"}
			}
			failed := 0
			for _, name := range args {
				n, err := loadFile(ctx, engine, name, cmd.InOrStdin())
				if err != nil {
					return err
				}
				failed += n
			}
			if failed > 0 {
				return errors.Errorf("%d batches could not be loaded", failed)
			}
			return nil
		},
	}
	cfg.Bind(cmd.Flags())
	return cmd
}

// loadFile returns the number of batches which did not load.
func loadFile(ctx context.Context, engine *replay.Engine, name string, stdin io.Reader) (int, error) {
	r := stdin
	if name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return 0, errors.WithStack(err)
		}
		defer f.Close()
		r = f
	}
	batches, err := engine.Load(ctx, r)
	if err != nil {
		return 0, errors.Wrapf(err, "could not load %s", name)
	}
	return report(name, batches), nil
}

// report logs the outcome of each batch and returns the number of
// failed batches.
func report(name string, batches []*types.IncomingBatch) int {
	failed := 0
	for _, batch := range batches {
		fields := log.Fields{
			"batch":          batch.String(),
			"channel":        batch.Channel,
			"fallbackInsert": batch.FallbackInsertCount,
			"fallbackUpdate": batch.FallbackUpdateCount,
			"file":           name,
			"missingDelete":  batch.MissingDeleteCount,
			"skip":           batch.SkipCount,
			"statements":     batch.StatementCount,
			"status":         batch.Status,
		}
		if batch.Status == types.BatchOK {
			log.WithFields(fields).Info("batch loaded")
			continue
		}
		failed++
		fields["failedRow"] = batch.FailedRowNumber
		fields["sqlState"] = batch.SQLState
		log.WithFields(fields).Error(batch.SQLMessage)
	}
	return failed
}
