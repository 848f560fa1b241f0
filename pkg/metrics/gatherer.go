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

package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	model "github.com/prometheus/client_model/go"
)

// Gatherer is a prometheus.Gatherer for the collectors of a Registry.
type Gatherer struct {
	*prometheus.Registry
	r            *Registry
	namespace    string
	enabled      []string
	polled       []string
	pollInterval time.Duration

	lock sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// GathererOption is an option for a Gatherer.
type GathererOption func(*Gatherer)

const (
	// MinPollInterval is the shortest accepted poll interval.
	MinPollInterval = 5 * time.Second
	// DefaultPollInterval is the poll interval used unless one is given.
	DefaultPollInterval = 30 * time.Second
)

// WithNamespace sets the namespace prefix of the gathered metrics.
func WithNamespace(namespace string) GathererOption {
	return func(g *Gatherer) {
		g.namespace = namespace
	}
}

// WithPollInterval sets the polling interval, 0 disables polling.
func WithPollInterval(interval time.Duration) GathererOption {
	return func(g *Gatherer) {
		if interval != 0 && interval < MinPollInterval {
			interval = MinPollInterval
		}
		g.pollInterval = interval
	}
}

// WithoutPolling disables internal polling. Polled collectors are
// refreshed only by explicit calls to Poll.
func WithoutPolling() GathererOption {
	return WithPollInterval(0)
}

// WithMetrics sets the enabled and the polled collector globs.
func WithMetrics(enabled, polled []string) GathererOption {
	return func(g *Gatherer) {
		g.enabled = enabled
		g.polled = polled
	}
}

// NewGatherer configures the collectors of the registry and returns a
// gatherer for them.
func (r *Registry) NewGatherer(opts ...GathererOption) (*Gatherer, error) {
	g := &Gatherer{
		Registry:     prometheus.NewPedanticRegistry(),
		r:            r,
		pollInterval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(g)
	}

	state, err := r.Configure(g.enabled, g.polled)
	if err != nil {
		return nil, err
	}

	if err := r.register(g.namespace, g.Registry); err != nil {
		return nil, err
	}

	if state.IsPolled() {
		g.Poll()
		if g.pollInterval > 0 {
			g.start()
		}
	}

	return g, nil
}

// Gather implements prometheus.Gatherer.
func (g *Gatherer) Gather() ([]*model.MetricFamily, error) {
	g.lock.Lock()
	defer g.lock.Unlock()
	return g.Registry.Gather()
}

// Poll refreshes every polled collector.
func (g *Gatherer) Poll() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.r.Poll()
}

func (g *Gatherer) start() {
	g.stop = make(chan struct{})
	g.done = make(chan struct{})

	log.Info("polling metrics every %s", g.pollInterval)

	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(g.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.Poll()
			}
		}
	}(g.stop, g.done)
}

// Stop stops internal polling.
func (g *Gatherer) Stop() {
	if g.stop == nil {
		return
	}
	close(g.stop)
	<-g.done
	g.stop, g.done = nil, nil
}
