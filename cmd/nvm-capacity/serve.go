// Copyright The NRI Plugins Authors. All Rights Reserved.
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

package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/intel/nvm-capacity/pkg/healthz"
	"github.com/intel/nvm-capacity/pkg/instrumentation"
	"github.com/intel/nvm-capacity/pkg/metrics"
	"github.com/intel/nvm-capacity/pkg/metrics/collectors"
	nvmmetrics "github.com/intel/nvm-capacity/pkg/nvm/metrics"
	"github.com/intel/nvm-capacity/pkg/udev"
)

func (a *app) registry() (*metrics.Registry, error) {
	r := metrics.NewRegistry()
	if err := collectors.Register(r); err != nil {
		return nil, err
	}
	if err := nvmmetrics.Register(r, a.mgr); err != nil {
		return nil, err
	}
	return r, nil
}

func newMetricsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Collect metrics once and print them in the Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.registry()
			if err != nil {
				return err
			}

			cfg := a.cfg.Instrumentation
			var enabled, polled []string
			if cfg.Metrics != nil {
				enabled, polled = cfg.Metrics.Enabled, cfg.Metrics.Polled
			}

			g, err := r.NewGatherer(
				metrics.WithNamespace(cfg.Namespace),
				metrics.WithoutPolling(),
				metrics.WithMetrics(enabled, polled),
			)
			if err != nil {
				return err
			}
			defer g.Stop()

			families, err := g.Gather()
			if err != nil {
				return err
			}

			for _, f := range families {
				if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), f); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newServeCmd(a *app) *cobra.Command {
	var (
		listen string
		watch  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve metrics and health checks over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := a.registry()
			if err != nil {
				return err
			}

			checker := healthz.NewChecker(10 * time.Second)
			checker.Register("pools", healthz.PoolCheck(a.mgr))

			cfg := a.cfg.Instrumentation
			if listen != "" {
				cfg.HTTPEndpoint = listen
			}

			if err := a.mgr.CheckSkuViolations(cmd.Context()); err != nil {
				log.Warn("SKU violations: %v", err)
			}

			srv := instrumentation.NewService(&cfg, r, checker)
			if err := srv.Start(); err != nil {
				return err
			}
			defer srv.Stop()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if watch {
				a.watchDevices(ctx)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, unix.SIGINT, unix.SIGTERM)
			defer signal.Stop(sigCh)

			select {
			case sig := <-sigCh:
				log.Info("received %s, shutting down", sig)
			case <-ctx.Done():
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on, overriding the configuration")
	cmd.Flags().BoolVar(&watch, "watch", true, "refresh capabilities and pools on NVDIMM uevents")

	return cmd
}

// watchDevices invalidates cached capabilities and pools whenever the
// kernel reports a change to NVDIMMs, regions or namespaces.
func (a *app) watchDevices(ctx context.Context) {
	m, err := udev.NewMonitor(udev.WithGlobFilters(udev.NvdimmGlobFilters...))
	if err != nil {
		log.Warn("not watching NVDIMM uevents: %v", err)
		return
	}

	go func() {
		err := m.Run(ctx, func(e *udev.Event) {
			log.Info("%s %s, refreshing capabilities and pools", e.Action, e.Devpath)
			a.mgr.Invalidate()
		})
		if err != nil {
			log.Error("NVDIMM uevent monitor failed: %v", err)
		}
	}()
}
