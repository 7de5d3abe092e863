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

package replay

import (
	"bytes"
	"io"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Resolve selects what happens when a row conflicts with the target.
type Resolve string

// These are the supported conflict resolutions.
const (
	// ResolveFallback turns an INSERT of an existing row into an
	// UPDATE, and an UPDATE of a missing row into an INSERT.
	ResolveFallback Resolve = "fallback"
	// ResolveIgnore skips conflicting rows.
	ResolveIgnore Resolve = "ignore"
	// ResolveManual treats a conflict as an error which requires
	// operator intervention.
	ResolveManual Resolve = "manual"
)

// OnError selects what happens when a row cannot be applied.
type OnError string

// These are the supported error behaviors.
const (
	// OnErrorHalt stops the batch and rolls it back.
	OnErrorHalt OnError = "halt"
	// OnErrorRecord writes the row to the incoming-error table and
	// continues with the next row.
	OnErrorRecord OnError = "record"
)

// Policy is the conflict-handling policy for one source node.
type Policy struct {
	Resolve Resolve `yaml:"resolve"`
	OnError OnError `yaml:"onError"`
}

// DefaultPolicy falls back on conflicts and halts on errors.
var DefaultPolicy = Policy{Resolve: ResolveFallback, OnError: OnErrorHalt}

func (p *Policy) preflight(defaults Policy) error {
	switch p.Resolve {
	case "":
		p.Resolve = defaults.Resolve
	case ResolveFallback, ResolveIgnore, ResolveManual:
	default:
		return errors.Errorf("unknown resolve %q", p.Resolve)
	}
	switch p.OnError {
	case "":
		p.OnError = defaults.OnError
	case OnErrorHalt, OnErrorRecord:
	default:
		return errors.Errorf("unknown onError %q", p.OnError)
	}
	return nil
}

// Conflicts holds the conflict policies, keyed by source node id. A
// configuration file looks like:
//
//	default:
//	  resolve: fallback
//	nodes:
//	  store-001:
//	    resolve: manual
//	    onError: record
type Conflicts struct {
	Default Policy            `yaml:"default"`
	Nodes   map[string]Policy `yaml:"nodes"`
}

// For returns the policy for the source node.
func (c *Conflicts) For(nodeID string) Policy {
	if c == nil {
		return DefaultPolicy
	}
	if p, ok := c.Nodes[nodeID]; ok {
		return p
	}
	return c.Default
}

// Preflight fills in unset fields.
func (c *Conflicts) Preflight() error {
	if err := c.Default.preflight(DefaultPolicy); err != nil {
		return errors.Wrap(err, "default")
	}
	for node, p := range c.Nodes {
		if err := p.preflight(c.Default); err != nil {
			return errors.Wrap(err, node)
		}
		c.Nodes[node] = p
	}
	return nil
}

// ParseConflicts decodes a YAML document. Unknown fields are rejected.
func ParseConflicts(r io.Reader) (*Conflicts, error) {
	ret := &Conflicts{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(ret); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "could not parse conflict configuration")
	}
	if err := ret.Preflight(); err != nil {
		return nil, err
	}
	return ret, nil
}

// LoadConflicts reads a YAML file.
func LoadConflicts(path string) (*Conflicts, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	ret, err := ParseConflicts(bytes.NewReader(buf))
	return ret, errors.Wrap(err, path)
}
