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
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	cfgapi "github.com/intel/nvm-capacity/pkg/apis/config/v1alpha1"
	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm/cache"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
	"github.com/intel/nvm-capacity/pkg/nvm/manager"
	"github.com/intel/nvm-capacity/pkg/nvm/store"
	"github.com/intel/nvm-capacity/pkg/nvm/transport"
)

var log = logger.Get("nvm-capacity")

// app is the state shared by every subcommand.
type app struct {
	configFile string
	root       string
	sysfsRoot  string
	debug      []string
	jsonOut    bool

	cfg       *cfgapi.Config
	transport *transport.File
	mgr       *manager.Manager
	store     *store.Store
}

func newRootCmd() *cobra.Command {
	a := &app{}

	cmd := &cobra.Command{
		Use:   "nvm-capacity",
		Short: "Manage NVDIMM capacity provisioning",
		Long: `nvm-capacity inspects platform capabilities of persistent memory DIMMs,
creates and removes capacity configuration goals, and reports the resulting
memory pools.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&a.configFile, "config", "c", "", "configuration file")
	flags.StringVar(&a.root, "root", "", "directory of the topology, PCAT and platform config data")
	flags.StringVar(&a.sysfsRoot, "sysfs", "", "root below which sys/ is read, \"/\" for this host")
	flags.StringSliceVar(&a.debug, "debug", nil, "enable debug logging for the given sources, or all")
	flags.BoolVar(&a.jsonOut, "json", false, "output in JSON instead of YAML")

	cmd.AddCommand(
		newCapabilitiesCmd(a),
		newPcatCmd(a),
		newGoalCmd(a),
		newPoolsCmd(a),
		newDumpCmd(a),
		newLoadCmd(a),
		newMetricsCmd(a),
		newServeCmd(a),
	)

	return cmd
}

// setup loads the configuration, configures logging and creates the
// manager.
func (a *app) setup() error {
	cfg, err := cfgapi.Load(a.configFile)
	if err != nil {
		return err
	}
	if a.root != "" {
		cfg.Transport.Root = a.root
	}
	if a.sysfsRoot != "" {
		cfg.Transport.SysfsRoot = a.sysfsRoot
	}
	cfg.Log.Debug = append(cfg.Log.Debug, a.debug...)

	if err := logger.Configure(&cfg.Log); err != nil {
		return err
	}

	var (
		topts []transport.FileOption
		mopts []manager.Option
	)
	if cfg.Transport.SysfsRoot != "" {
		topts = append(topts, transport.WithSysfs(cfg.Transport.SysfsRoot))
	}

	c := cache.New(cache.Options{FilePath: cfg.Transport.Cache})
	if err := c.Load(); err != nil {
		log.Warn("ignoring unusable cache: %v", err)
	}
	mopts = append(mopts,
		manager.WithCache(c),
		manager.WithEvents(events.New()),
		manager.WithMaxPools(cfg.MaxPools),
	)
	if cfg.Host != "" {
		mopts = append(mopts, manager.WithHost(cfg.Host))
	}

	if cfg.Store.Path != "" {
		s, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		a.store = s
		mopts = append(mopts, manager.WithStore(s))
	}

	a.cfg = cfg
	a.transport = transport.NewFile(cfg.Transport.Root, topts...)
	a.mgr = manager.New(a.transport, mopts...)

	return nil
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// print writes v as YAML, or as indented JSON if asked to.
func (a *app) print(w io.Writer, v interface{}) error {
	if a.jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	_, err = w.Write(data)
	return err
}
