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
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/metrics"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/cache"
)

// Group is the metrics group of the collectors in this package.
const Group = "nvm"

var log = logger.Get("nvm-metrics")

// Source provides the state exported as metrics. It is implemented by
// *manager.Manager.
type Source interface {
	Pools(ctx context.Context) ([]nvm.Pool, error)
	GoalStatus(ctx context.Context) (map[string]nvm.ConfigGoalStatus, error)
	Capabilities(ctx context.Context) (*cache.Capabilities, error)
}

// Timeout limits the time a single collection may take.
var Timeout = 10 * time.Second

var (
	poolCapacity = prometheus.NewDesc(
		"pool_capacity_bytes",
		"Total capacity of a pool in bytes.",
		[]string{"type", "socket"}, nil,
	)
	poolFreeCapacity = prometheus.NewDesc(
		"pool_free_capacity_bytes",
		"Capacity of a pool not yet claimed by namespaces in bytes.",
		[]string{"type", "socket"}, nil,
	)
	poolHealth = prometheus.NewDesc(
		"pool_health",
		"Rolled up health of a pool, 1 normal and larger is worse.",
		[]string{"type", "socket"}, nil,
	)
	goalStatus = prometheus.NewDesc(
		"goal_status",
		"Status of the config goal of a DIMM.",
		[]string{"device", "status"}, nil,
	)
	featureEnabled = prometheus.NewDesc(
		"feature_enabled",
		"Whether a capacity management feature is enabled.",
		[]string{"feature"}, nil,
	)
)

type poolCollector struct{ src Source }
type goalCollector struct{ src Source }
type featureCollector struct{ src Source }

// Register adds the pool, goal and feature collectors to the registry.
// They are polled since each collection reads firmware tables.
func Register(r *metrics.Registry, src Source) error {
	collectors := []struct {
		name string
		c    prometheus.Collector
	}{
		{"pools", &poolCollector{src}},
		{"goals", &goalCollector{src}},
		{"features", &featureCollector{src}},
	}
	for _, c := range collectors {
		err := r.Register(c.name, c.c,
			metrics.WithGroup(Group),
			metrics.WithCollectorOptions(metrics.WithoutSubsystem(), metrics.WithPolled()),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolCapacity
	ch <- poolFreeCapacity
	ch <- poolHealth
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	pools, err := c.src.Pools(ctx)
	if err != nil {
		log.Error("failed to collect pools: %v", err)
		ch <- prometheus.NewInvalidMetric(poolCapacity, err)
		return
	}

	for _, p := range pools {
		labels := []string{p.Type.String(), strconv.Itoa(p.SocketID)}
		ch <- prometheus.MustNewConstMetric(poolCapacity, prometheus.GaugeValue,
			float64(p.Capacity), labels...)
		ch <- prometheus.MustNewConstMetric(poolFreeCapacity, prometheus.GaugeValue,
			float64(p.FreeCapacity), labels...)
		ch <- prometheus.MustNewConstMetric(poolHealth, prometheus.GaugeValue,
			float64(p.Health), labels...)
	}
}

func (c *goalCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- goalStatus
}

func (c *goalCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	status, err := c.src.GoalStatus(ctx)
	if err != nil {
		log.Error("failed to collect goal status: %v", err)
		ch <- prometheus.NewInvalidMetric(goalStatus, err)
		return
	}

	for uid, s := range status {
		ch <- prometheus.MustNewConstMetric(goalStatus, prometheus.GaugeValue,
			float64(s), uid, s.String())
	}
}

func (c *featureCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- featureEnabled
}

func (c *featureCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()

	caps, err := c.src.Capabilities(ctx)
	if err != nil {
		log.Error("failed to collect capabilities: %v", err)
		ch <- prometheus.NewInvalidMetric(featureEnabled, err)
		return
	}

	features, err := FeatureMap(caps.Features)
	if err != nil {
		ch <- prometheus.NewInvalidMetric(featureEnabled, err)
		return
	}

	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := 0.0
		if features[name] {
			v = 1
		}
		ch <- prometheus.MustNewConstMetric(featureEnabled, prometheus.GaugeValue, v, name)
	}
}

// FeatureMap returns the features of the set keyed by their JSON names.
func FeatureMap(f nvm.NvmFeatureSet) (map[string]bool, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	features := map[string]bool{}
	if err := json.Unmarshal(data, &features); err != nil {
		return nil, err
	}
	return features, nil
}
