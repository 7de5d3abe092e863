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

// Package stdcmd contains a template for long-running commands which
// serve metrics while they run.
package stdcmd

import (
	"context"
	"net"
	"net/http"
	_ "net/http/pprof" // Register pprof handlers.
	"runtime"
	"runtime/debug"
	"time"

	"github.com/cockroachdb/field-eng-powertools/stopper"
	"github.com/cockroachdb/trigsync/internal/util/diag"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func init() {
	runtime.SetBlockProfileRate(1000)
	runtime.SetMutexProfileFraction(1000)
}

// MetricsAddrFlag is the name of the flag which sets the metrics
// server's bind address.
const MetricsAddrFlag = "metricsAddr"

// Config is an optional object for CLI flag registration.
type Config interface {
	Bind(set *pflag.FlagSet)
}

// A Template describes a long-running command.
type Template struct {
	// An optional object for CLI flag registration.
	Config Config
	// The grace period given to background tasks when the command is
	// interrupted.
	Grace time.Duration
	// An optional default value for [MetricsAddrFlag].
	Metrics string
	// Passed to [cobra.Command.Short].
	Short string
	// Start should launch background tasks on the context and return.
	// Components may register themselves with the diagnostics, which
	// are served by the metrics server.
	Start func(ctx *stopper.Context, cmd *cobra.Command, diags *diag.Diagnostics) error
	// Passed to [cobra.Command.Use].
	Use string
	// Called once all setup has been completed.
	testCallback func()
}

// New constructs a command which runs until its context is canceled.
func New(t *Template) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Args:  cobra.NoArgs,
		Short: t.Short,
		Use:   t.Use,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Print build info on startup so we always have a place
			// to start debugging from.
			if bi, ok := debug.ReadBuildInfo(); ok {
				info := make(log.Fields, len(bi.Settings))
				for _, s := range bi.Settings {
					info[s.Key] = s.Value
				}
				log.WithFields(info).Info("trigsync starting")
			}

			ctx := stopper.WithContext(context.WithoutCancel(cmd.Context()))
			grace := t.Grace
			if grace <= 0 {
				grace = 10 * time.Second
			}
			stop := func() error {
				ctx.Stop(grace)
				return ctx.Wait()
			}

			diags := diag.New(ctx)
			if err := t.Start(ctx, cmd, diags); err != nil {
				_ = stop()
				return err
			}

			if metricsAddr != "" {
				cancelServer, err := MetricsServer(metricsAddr, diags)
				if err != nil {
					_ = stop()
					return err
				}
				defer cancelServer()
			}

			if t.testCallback != nil {
				t.testCallback()
			}
			// The main function cancels the context on a signal.
			select {
			case <-cmd.Context().Done():
				log.Info("shutting down")
			case <-ctx.Stopping():
			}
			return stop()
		},
	}
	if t.Config != nil {
		t.Config.Bind(cmd.Flags())
	}
	cmd.Flags().StringVar(&metricsAddr, MetricsAddrFlag, t.Metrics,
		"a host:port on which to serve metrics and diagnostics")
	return cmd
}

// AddHandlers registers the metrics, diagnostics, and profiling
// endpoints.
func AddHandlers(mux *http.ServeMux, diags *diag.Diagnostics) {
	// The pprof handlers attach themselves to the system-default mux.
	mux.Handle("/debug/pprof/", http.DefaultServeMux)
	mux.Handle("/_/diag", diags.Handler())
	mux.HandleFunc("/_/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	mux.Handle("/_/varz", promhttp.InstrumentMetricHandler(
		prometheus.DefaultRegisterer,
		promhttp.HandlerFor(
			prometheus.DefaultGatherer,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				ErrorLog:          log.StandardLogger().WithField("promhttp", "true"),
			})))
	mux.Handle("/_/", http.NotFoundHandler()) // Reserve all under /_/
}

// MetricsServer starts an HTTP server on the address and returns a
// function which shuts it down.
func MetricsServer(bindAddr string, diags *diag.Diagnostics) (func(), error) {
	mux := &http.ServeMux{}
	AddHandlers(mux, diags)
	mux.Handle("/", http.NotFoundHandler())

	l, err := net.Listen("tcp", bindAddr)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	srv := &http.Server{
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("metrics server bound to %s", l.Addr())
	go func() {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server exited")
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
