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
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

// Defaults for flag bindings.
const (
	DefaultMaxFiles   = 100
	DefaultPollPeriod = 5 * time.Second
	DefaultRetryMax   = 10 * time.Second
	DefaultSuffix     = ".ndjson"
)

// Config controls the polling of the inbox.
type Config struct {
	MaxFiles   int           // Files to load in one poll.
	PollPeriod time.Duration // Time between polls.
	RetryMax   time.Duration // Limits the retries of a failed object read.
	Suffix     string        // Only files with this suffix are loaded.
	StorageURL string        // A file:// or s3:// URL.

	// The following are computed by Preflight.
	dir      string    // The directory or prefix to scan.
	key      string    // Identifies the inbox in the memo table.
	localDir string    // Set for file:// URLs.
	s3       *S3Config // Set for s3:// URLs.
}

// Bind adds flags to the set.
func (c *Config) Bind(f *pflag.FlagSet) {
	f.IntVar(&c.MaxFiles, "inboxMaxFiles", DefaultMaxFiles,
		"the maximum number of delivered files to load in one poll")
	f.DurationVar(&c.PollPeriod, "inboxPollPeriod", DefaultPollPeriod,
		"how often to look for newly delivered files")
	f.DurationVar(&c.RetryMax, "inboxRetryMax", DefaultRetryMax,
		"how long to retry reading a file before giving up until the next poll")
	f.StringVar(&c.Suffix, "inboxSuffix", DefaultSuffix,
		"only files with this suffix are loaded")
	f.StringVar(&c.StorageURL, "inboxURL", "",
		"where batch files are delivered; file:///path or "+
			"s3://bucket/prefix?AWS_ENDPOINT=...&AWS_ACCESS_KEY_ID=...&AWS_SECRET_ACCESS_KEY=...")
}

// Enabled returns true if an inbox has been configured.
func (c *Config) Enabled() bool {
	return c.StorageURL != ""
}

// Preflight applies defaults and validates the configuration. An
// empty StorageURL disables the inbox.
func (c *Config) Preflight() error {
	if c.MaxFiles <= 0 {
		c.MaxFiles = DefaultMaxFiles
	}
	if c.PollPeriod <= 0 {
		c.PollPeriod = DefaultPollPeriod
	}
	if c.RetryMax <= 0 {
		c.RetryMax = DefaultRetryMax
	}
	if !c.Enabled() {
		return nil
	}

	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return errors.Wrap(err, "could not parse inboxURL")
	}
	switch u.Scheme {
	case "file":
		if u.Path == "" {
			return errors.New("missing directory in inboxURL; must be file:///path")
		}
		c.dir = "."
		c.localDir = u.Path
	case "s3":
		if u.Host == "" {
			return errors.New("missing bucket name in inboxURL; must be s3://bucket/prefix")
		}
		c.dir = strings.TrimPrefix(u.Path, "/")
		params := u.Query()
		endpoint := paramValue(params, "AWS_ENDPOINT")
		if endpoint == "" {
			endpoint = "https://s3.amazonaws.com"
		}
		parsed, err := url.Parse(endpoint)
		if err != nil {
			return errors.Wrap(err, "could not parse AWS_ENDPOINT")
		}
		c.s3 = &S3Config{
			AccessKey:    paramValue(params, "AWS_ACCESS_KEY_ID"),
			Bucket:       u.Host,
			Endpoint:     parsed.Host,
			Insecure:     parsed.Scheme == "http",
			SecretKey:    paramValue(params, "AWS_SECRET_ACCESS_KEY"),
			SessionToken: paramValue(params, "AWS_SESSION_TOKEN"),
		}
	default:
		return errors.Errorf("unknown inboxURL scheme %q", u.Scheme)
	}
	c.key = fmt.Sprintf("inbox:%s://%s%s", u.Scheme, u.Host, u.Path)
	return nil
}

// paramValue falls back to the environment.
func paramValue(params url.Values, key string) string {
	if value := params.Get(key); value != "" {
		return value
	}
	return os.Getenv(key)
}
