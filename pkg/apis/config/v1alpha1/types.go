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

package v1alpha1

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/intel/nvm-capacity/pkg/apis/config/v1alpha1/instrumentation"
	"github.com/intel/nvm-capacity/pkg/apis/config/v1alpha1/log"
)

// Config is the configuration of nvm-capacity.
type Config struct {
	// +optional
	Log log.Config `json:"log,omitempty"`
	// +optional
	Transport TransportConfig `json:"transport,omitempty"`
	// +optional
	Store StoreConfig `json:"store,omitempty"`
	// Host overrides the host name pool UIDs are derived from.
	// +optional
	Host string `json:"host,omitempty"`
	// MaxPools limits the number of pools reported, 0 for no limit.
	// +optional
	MaxPools int `json:"maxPools,omitempty"`
	// +optional
	Instrumentation instrumentation.Config `json:"instrumentation,omitempty"`
}

// TransportConfig configures the file transport.
type TransportConfig struct {
	// Root is the directory holding the topology document, the PCAT and
	// the per-DIMM platform config data.
	// +kubebuilder:default="/var/lib/nvm-capacity"
	Root string `json:"root,omitempty"`
	// SysfsRoot, if set, is the root below which sys/ is read for the
	// PCAT and for DIMM discovery. Use "/" for the running host.
	// +optional
	SysfsRoot string `json:"sysfsRoot,omitempty"`
	// Cache is the file capabilities and pools are cached to.
	// +optional
	Cache string `json:"cache,omitempty"`
}

// StoreConfig configures the platform config database.
type StoreConfig struct {
	// Path is the SQLite database, empty to disable.
	// +optional
	Path string `json:"path,omitempty"`
}

const (
	DefaultRoot         = "/var/lib/nvm-capacity"
	DefaultHTTPEndpoint = ":8891"
	DefaultNamespace    = "nvm"
	DefaultReportPeriod = 30 * time.Second
)

// DefaultConfig returns the configuration used for anything not set.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			Root: DefaultRoot,
		},
		Instrumentation: instrumentation.Config{
			ReportPeriod: instrumentation.Duration(DefaultReportPeriod),
			HTTPEndpoint: DefaultHTTPEndpoint,
			Namespace:    DefaultNamespace,
			Metrics: &instrumentation.MetricsConfig{
				Enabled: []string{"nvm", "standard"},
			},
		},
	}
}

// Parse decodes a YAML configuration on top of the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Load reads the configuration file at path. An empty path gives the
// defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read configuration %s", path)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return cfg, nil
}
