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

package instrumentation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	cfgapi "github.com/intel/nvm-capacity/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/intel/nvm-capacity/pkg/healthz"
	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/metrics"
)

var log = logger.NewLogger("instrumentation")

// Service serves metrics and health checks over HTTP.
type Service struct {
	sync.Mutex
	cfg      *cfgapi.Config
	registry *metrics.Registry
	checker  *healthz.Checker
	gatherer *metrics.Gatherer
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewService creates a service for the collectors of the registry and the
// checks of the checker.
func NewService(cfg *cfgapi.Config, registry *metrics.Registry, checker *healthz.Checker) *Service {
	return &Service{
		cfg:      cfg,
		registry: registry,
		checker:  checker,
	}
}

// Start starts the HTTP server and metrics polling.
func (s *Service) Start() error {
	log.Info("starting instrumentation services...")

	s.Lock()
	defer s.Unlock()

	if s.server != nil {
		return fmt.Errorf("instrumentation: already started")
	}

	var enabled, polled []string
	if s.cfg.Metrics != nil {
		enabled, polled = s.cfg.Metrics.Enabled, s.cfg.Metrics.Polled
	}

	g, err := s.registry.NewGatherer(
		metrics.WithNamespace(s.cfg.Namespace),
		metrics.WithPollInterval(time.Duration(s.cfg.ReportPeriod)),
		metrics.WithMetrics(enabled, polled),
	)
	if err != nil {
		return fmt.Errorf("failed to start metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	}))
	if s.checker != nil {
		s.checker.Setup(mux)
	}

	l, err := net.Listen("tcp", s.cfg.HTTPEndpoint)
	if err != nil {
		g.Stop()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	s.gatherer = g
	s.listener = l
	s.server = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	s.done = make(chan struct{})

	go func(srv *http.Server, l net.Listener, done chan<- struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server failed: %v", err)
		}
	}(s.server, l, s.done)

	log.Info("HTTP server listening on %s", l.Addr())

	return nil
}

// Addr returns the address the HTTP server listens on.
func (s *Service) Addr() string {
	s.Lock()
	defer s.Unlock()

	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the HTTP server and metrics polling.
func (s *Service) Stop() {
	s.Lock()
	defer s.Unlock()

	if s.server == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		log.Error("failed to shut down HTTP server: %v", err)
	}
	<-s.done

	s.gatherer.Stop()
	s.server, s.listener, s.gatherer, s.done = nil, nil, nil, nil
}
