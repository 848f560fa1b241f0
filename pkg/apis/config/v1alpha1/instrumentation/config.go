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
	"encoding/json"
	"fmt"
	"time"
)

// Config provides runtime configuration for instrumentation.
type Config struct {
	// ReportPeriod is the interval between collecting polled metrics.
	// +optional
	// +kubebuilder:default="30s"
	ReportPeriod Duration `json:"reportPeriod,omitempty"`
	// HTTPEndpoint is the address our HTTP server listens on. This endpoint
	// is used to expose Prometheus metrics and health checks.
	// +optional
	// +kubebuilder:example=":8891"
	HTTPEndpoint string `json:"httpEndpoint,omitempty"`
	// Namespace prefixes the names of exported metrics.
	// +optional
	Namespace string `json:"namespace,omitempty"`
	// Metrics defines which metrics to collect.
	// +kubebuilder:default={"enabled": {"nvm", "standard"}}
	Metrics *MetricsConfig `json:"metrics,omitempty"`
}

// MetricsConfig selects collectors by glob. A glob matches a collector
// group, a collector name, or a group/name pair.
type MetricsConfig struct {
	// Enabled lists the collectors to enable.
	// +optional
	Enabled []string `json:"enabled,omitempty"`
	// Polled lists the collectors to force to polled mode.
	// +optional
	Polled []string `json:"polled,omitempty"`
}

// Duration is a time.Duration which (un)marshals as a duration string.
type Duration time.Duration

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid duration %s: %w", string(data), err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
