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

// Package inbox loads batch files which senders deliver to a directory
// or an object store bucket.
package inbox

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/cluster"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// A Loader applies a stream of batches.
type Loader interface {
	Load(ctx context.Context, r io.Reader) ([]*types.IncomingBatch, error)
}

// Inbox polls a bucket for batch files. Files are loaded in name order
// and a cursor records the last file whose batches were all loaded.
// A file which contains a failed batch is retried on each poll until
// its batches load.
type Inbox struct {
	bucket Bucket
	cfg    *Config
	loader Loader
	memo   types.Memo
}

// New constructs an Inbox.
func New(cfg *Config, bucket Bucket, loader Loader, memo types.Memo) *Inbox {
	return &Inbox{bucket: bucket, cfg: cfg, loader: loader, memo: memo}
}

type cursor struct {
	Last string `json:"last"`
}

// Poll loads any files which arrived since the previous poll. It
// returns the number of files which were completely loaded.
func (i *Inbox) Poll(ctx context.Context) (int, error) {
	start := time.Now()
	last, err := i.last(ctx)
	if err != nil {
		return 0, err
	}

	var names []string
	if err := i.bucket.Iter(ctx, i.cfg.dir, func(name string) error {
		if strings.HasSuffix(name, i.cfg.Suffix) {
			names = append(names, name)
		}
		return nil
	}, IterOptions{
		Max:        i.cfg.MaxFiles,
		Recursive:  true,
		StartAfter: last,
	}); err != nil {
		return 0, errors.Wrap(err, "could not list inbox")
	}

	loaded := 0
	for _, name := range names {
		ok, err := i.loadFile(ctx, name)
		if err != nil {
			return loaded, err
		}
		if !ok {
			break
		}
		if err := i.setLast(ctx, name); err != nil {
			return loaded, err
		}
		loaded++
	}
	pollDurations.Observe(time.Since(start).Seconds())
	return loaded, nil
}

// loadFile returns false if any batch in the file failed to load.
func (i *Inbox) loadFile(ctx context.Context, name string) (bool, error) {
	var rc io.ReadCloser
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = i.cfg.RetryMax
	if err := backoff.RetryNotify(func() error {
		var err error
		rc, err = i.bucket.Get(ctx, name)
		return err
	}, backoff.WithContext(policy, ctx), func(err error, delay time.Duration) {
		readRetries.Inc()
		log.WithError(err).WithField("file", name).Debugf("retrying in %s", delay)
	}); err != nil {
		return false, errors.Wrapf(err, "could not read %s", name)
	}
	defer rc.Close()

	start := time.Now()
	batches, err := i.loader.Load(ctx, rc)
	fileDurations.Observe(time.Since(start).Seconds())
	if err != nil {
		fileErrors.Inc()
		return false, errors.Wrapf(err, "could not load %s", name)
	}
	for _, batch := range batches {
		if batch.Status != types.BatchOK {
			log.WithFields(log.Fields{
				"batch":     batch,
				"file":      name,
				"failedRow": batch.FailedRowNumber,
			}).Warn("batch failed to load; file will be retried")
			return false, nil
		}
	}
	filesLoaded.Inc()
	log.WithFields(log.Fields{
		"batches": len(batches),
		"file":    name,
	}).Debug("loaded inbox file")
	return true, nil
}

// Start polls the inbox periodically while holding the PULL lock.
func (i *Inbox) Start(ctx *stopper.Context, locks *cluster.Manager) {
	locks.Periodic(ctx, types.ActionPull, types.LockExclusive, i.cfg.PollPeriod,
		func(ctx context.Context) error {
			_, err := i.Poll(ctx)
			return err
		})
}

func (i *Inbox) last(ctx context.Context) (string, error) {
	buf, err := i.memo.Get(ctx, i.cfg.key)
	if err != nil || buf == nil {
		return "", err
	}
	var ret cursor
	if err := json.Unmarshal(buf, &ret); err != nil {
		return "", errors.Wrapf(err, "could not decode %s", i.cfg.key)
	}
	return ret.Last, nil
}

func (i *Inbox) setLast(ctx context.Context, name string) error {
	buf, err := json.Marshal(cursor{Last: name})
	if err != nil {
		return errors.WithStack(err)
	}
	return i.memo.Put(ctx, i.cfg.key, buf)
}

// Diagnostic implements [diag.Diagnostic] by reporting the last file
// which was loaded.
func (i *Inbox) Diagnostic(ctx context.Context) any {
	last, err := i.last(ctx)
	if err != nil {
		return err.Error()
	}
	return map[string]any{
		"cursor": i.cfg.key,
		"last":   last,
	}
}
