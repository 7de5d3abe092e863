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

package inbox

import (
	"github.com/cockroachdb/trigsync/internal/replay"
	"github.com/cockroachdb/trigsync/internal/types"
	"github.com/google/wire"
	"github.com/pkg/errors"
)

// Set is used by Wire.
var Set = wire.NewSet(
	ProvideBucket,
	ProvideInbox,
)

// ProvideBucket is called by Wire. It returns nil if no inbox has been
// configured.
func ProvideBucket(cfg *Config) (Bucket, error) {
	if err := cfg.Preflight(); err != nil {
		return nil, err
	}
	switch {
	case cfg.localDir != "":
		return newLocalBucket(cfg.localDir), nil
	case cfg.s3 != nil:
		return newS3Bucket(cfg.s3)
	case !cfg.Enabled():
		return nil, nil
	default:
		return nil, errors.New("inbox has no storage")
	}
}

// ProvideInbox is called by Wire. It returns nil if no inbox has been
// configured.
func ProvideInbox(cfg *Config, bucket Bucket, engine *replay.Engine, memo types.Memo) *Inbox {
	if bucket == nil {
		return nil
	}
	return New(cfg, bucket, engine, memo)
}
