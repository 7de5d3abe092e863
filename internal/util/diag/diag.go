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

// Package diag contains a registry through which components report
// structured diagnostic information.
package diag

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Diagnostic is implemented by any type that can report its state.
type Diagnostic interface {
	// Diagnostic returns a json-serializable value.
	Diagnostic(context.Context) any
}

// A DiagnosticFn adapts a function to the Diagnostic interface.
type DiagnosticFn func(context.Context) any

// Diagnostic implements Diagnostic.
func (c DiagnosticFn) Diagnostic(ctx context.Context) any {
	return c(ctx)
}

// Diagnostics is a registry of named Diagnostic implementations.
type Diagnostics struct {
	mu struct {
		sync.RWMutex
		impls map[string]Diagnostic
	}
}

// New constructs a Diagnostics which reports the build and command
// line. The instance writes itself to the log if the process receives
// a SIGUSR1 before the context is stopped.
func New(ctx *stopper.Context) *Diagnostics {
	ret := &Diagnostics{}
	ret.mu.impls = map[string]Diagnostic{
		"build": DiagnosticFn(func(context.Context) any {
			bi, ok := debug.ReadBuildInfo()
			if !ok {
				return nil
			}
			info := make(map[string]string, len(bi.Settings))
			for _, s := range bi.Settings {
				info[s.Key] = s.Value
			}
			return info
		}),
		"cmd": DiagnosticFn(func(context.Context) any {
			return os.Args
		}),
	}
	logOnSignal(ctx, ret)
	return ret
}

// Handler serves the report as JSON.
func (d *Diagnostics) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := d.Write(req.Context(), w, true); err != nil {
			log.WithError(err).Warn("could not write diagnostics")
		}
	})
}

// Names returns the registered names in sorted order.
func (d *Diagnostics) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ret := make([]string, 0, len(d.mu.impls))
	for name := range d.mu.impls {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// Payload collects the value of every registered Diagnostic.
func (d *Diagnostics) Payload(ctx context.Context) map[string]any {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ret := make(map[string]any, len(d.mu.impls))
	for key, impl := range d.mu.impls {
		ret[key] = impl.Diagnostic(ctx)
	}
	return ret
}

// Register adds a named Diagnostic. The callback may be invoked
// concurrently at any time. An error is returned if the name is
// already in use.
func (d *Diagnostics) Register(name string, impl Diagnostic) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, conflict := d.mu.impls[name]; conflict {
		return errors.Errorf("%s already registered", name)
	}
	d.mu.impls[name] = impl
	return nil
}

// Unregister removes a registration.
func (d *Diagnostics) Unregister(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.mu.impls, name)
}

// Write the report as JSON.
func (d *Diagnostics) Write(ctx context.Context, w io.Writer, pretty bool) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	if pretty {
		enc.SetIndent("", " ")
	}
	return errors.WithStack(enc.Encode(d.Payload(ctx)))
}
