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
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	logger "github.com/intel/nvm-capacity/pkg/log"
)

var (
	log  = logger.Get("metrics")
	clog = logger.Get("collector")
)

// State is the configuration of a collector or of a group of collectors.
type State int

const (
	// Enabled marks a collector as enabled.
	Enabled State = (1 << iota)
	// Polled marks a collector as polled. Polled collectors return the
	// metrics cached during the last poll.
	Polled
	// NamespacePrefix prefixes the metrics of a collector with the
	// namespace of the gatherer.
	NamespacePrefix
	// SubsystemPrefix prefixes the metrics of a collector with the name of
	// its group.
	SubsystemPrefix

	// DefaultGroup is the group of collectors registered without one.
	DefaultGroup = "default"
)

func (s State) IsEnabled() bool      { return s&Enabled != 0 }
func (s State) IsPolled() bool       { return s&Polled != 0 }
func (s State) NeedsNamespace() bool { return s&NamespacePrefix != 0 }
func (s State) NeedsSubsystem() bool { return s&SubsystemPrefix != 0 }

func (s State) String() string {
	flags := []string{"disabled"}
	if s.IsEnabled() {
		flags[0] = "enabled"
	}
	if s.IsPolled() {
		flags = append(flags, "polled")
	}
	if s.NeedsNamespace() {
		flags = append(flags, "namespace-prefixed")
	}
	if s.NeedsSubsystem() {
		flags = append(flags, "subsystem-prefixed")
	}
	return strings.Join(flags, ",")
}

// Collector is a registered prometheus.Collector.
type Collector struct {
	collector prometheus.Collector
	name      string
	group     string

	sync.Mutex
	state    State
	lastpoll []prometheus.Metric
}

// CollectorOption is an option for a Collector.
type CollectorOption func(*Collector)

// WithoutNamespace disables namespace prefixing for a collector.
func WithoutNamespace() CollectorOption {
	return func(c *Collector) {
		c.state &^= NamespacePrefix
	}
}

// WithoutSubsystem disables group prefixing for a collector.
func WithoutSubsystem() CollectorOption {
	return func(c *Collector) {
		c.state &^= SubsystemPrefix
	}
}

// WithPolled marks a collector polled.
func WithPolled() CollectorOption {
	return func(c *Collector) {
		c.state |= Polled
	}
}

func newCollector(group, name string, collector prometheus.Collector, options ...CollectorOption) *Collector {
	c := &Collector{
		collector: collector,
		name:      name,
		group:     group,
		state:     Enabled | NamespacePrefix | SubsystemPrefix,
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Name returns the qualified name of the collector, group/name.
func (c *Collector) Name() string {
	return c.group + "/" + c.name
}

// State returns the current state of the collector.
func (c *Collector) State() State {
	c.Lock()
	defer c.Unlock()
	return c.state
}

// Matches returns true if the glob matches the group, the name or the
// qualified name of the collector.
func (c *Collector) Matches(glob string) bool {
	for _, s := range []string{c.group, c.name, c.Name()} {
		ok, err := path.Match(glob, s)
		if err != nil {
			log.Warn("invalid glob pattern %q: %v", glob, err)
			return false
		}
		if ok {
			return true
		}
	}
	return false
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.collector.Describe(ch)
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.Lock()
	state, polled := c.state, c.lastpoll
	c.Unlock()

	switch {
	case !state.IsEnabled():
	case state.IsPolled():
		clog.Debug("collecting %q (polled)", c.Name())
		for _, m := range polled {
			ch <- m
		}
	default:
		clog.Debug("collecting %q", c.Name())
		c.collector.Collect(ch)
	}
}

// Poll caches the current metrics of an enabled polled collector.
func (c *Collector) Poll() {
	if s := c.State(); !s.IsEnabled() || !s.IsPolled() {
		return
	}

	clog.Debug("polling %q", c.Name())

	ch := make(chan prometheus.Metric, 32)
	go func() {
		c.collector.Collect(ch)
		close(ch)
	}()

	var polled []prometheus.Metric
	for m := range ch {
		polled = append(polled, m)
	}

	c.Lock()
	c.lastpoll = polled
	c.Unlock()
}

func (c *Collector) configure(enabled, polled bool) State {
	c.Lock()
	defer c.Unlock()

	c.state &^= Enabled
	if enabled || polled {
		c.state |= Enabled
	}
	if polled {
		c.state |= Polled
	}
	return c.state
}

// Registry is a collection of collectors, organized into groups.
type Registry struct {
	sync.Mutex
	groups map[string][]*Collector
}

// RegisterOptions are options for registering a collector.
type RegisterOptions struct {
	group string
	copts []CollectorOption
}

// RegisterOption is an option for registering a collector.
type RegisterOption func(*RegisterOptions)

// WithGroup registers a collector in the named group.
func WithGroup(name string) RegisterOption {
	return func(o *RegisterOptions) {
		if name == "" {
			name = DefaultGroup
		}
		o.group = name
	}
}

// WithCollectorOptions registers a collector with the given options.
func WithCollectorOptions(opts ...CollectorOption) RegisterOption {
	return func(o *RegisterOptions) {
		o.copts = append(o.copts, opts...)
	}
}

// NewRegistry creates a new registry.
func NewRegistry() *Registry {
	return &Registry{groups: make(map[string][]*Collector)}
}

// Register adds a collector to the registry.
func (r *Registry) Register(name string, collector prometheus.Collector, opts ...RegisterOption) error {
	options := &RegisterOptions{group: DefaultGroup}
	for _, o := range opts {
		o(options)
	}

	r.Lock()
	defer r.Unlock()

	for _, c := range r.groups[options.group] {
		if c.name == name {
			return fmt.Errorf("metrics: collector %s/%s already registered", options.group, name)
		}
	}

	c := newCollector(options.group, name, collector, options.copts...)
	r.groups[options.group] = append(r.groups[options.group], c)
	log.Info("registered collector %q", c.Name())

	return nil
}

// MustRegister adds a collector to the registry, panicking on error.
func (r *Registry) MustRegister(name string, collector prometheus.Collector, opts ...RegisterOption) {
	if err := r.Register(name, collector, opts...); err != nil {
		panic(err)
	}
}

// collectors returns every collector in group and name order.
func (r *Registry) collectors() []*Collector {
	r.Lock()
	defer r.Unlock()

	names := make([]string, 0, len(r.groups))
	for name := range r.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var all []*Collector
	for _, name := range names {
		all = append(all, r.groups[name]...)
	}
	return all
}

// Configure enables the collectors matching any of the enabled globs and
// forces the ones matching any of the polled globs to polled mode. Every
// other collector is disabled. Globs which match nothing are an error.
func (r *Registry) Configure(enabled, polled []string) (State, error) {
	log.Info("configuring collectors, enabled=[%s], polled=[%s]",
		strings.Join(enabled, ","), strings.Join(polled, ","))

	matched := make(map[string]bool)
	match := func(c *Collector, globs []string) bool {
		found := false
		for _, glob := range globs {
			if c.Matches(glob) {
				matched[glob] = true
				found = true
			}
		}
		return found
	}

	state := State(0)
	for _, c := range r.collectors() {
		s := c.configure(match(c, enabled), match(c, polled))
		log.Debug("collector %q now %s", c.Name(), s)
		state |= s
	}

	var unmatched []string
	for _, glob := range append(append([]string{}, enabled...), polled...) {
		if !matched[glob] {
			unmatched = append(unmatched, glob)
		}
	}
	if len(unmatched) > 0 {
		return state, fmt.Errorf("metrics: no collectors match %s", strings.Join(unmatched, ", "))
	}

	return state, nil
}

// Poll polls every enabled collector in polled mode.
func (r *Registry) Poll() {
	wg := sync.WaitGroup{}
	for _, c := range r.collectors() {
		wg.Add(1)
		go func(c *Collector) {
			defer wg.Done()
			c.Poll()
		}(c)
	}
	wg.Wait()
}

// State returns the collective state of every collector.
func (r *Registry) State() State {
	state := State(0)
	for _, c := range r.collectors() {
		state |= c.State()
	}
	return state
}

func prefixedRegisterer(prefix string, reg prometheus.Registerer) prometheus.Registerer {
	if prefix == "" {
		return reg
	}
	return prometheus.WrapRegistererWithPrefix(prefix+"_", reg)
}

// register registers every collector with reg, prefixed as the collector
// asks for.
func (r *Registry) register(namespace string, reg prometheus.Registerer) error {
	for _, c := range r.collectors() {
		prefixed := reg
		s := c.State()
		if s.NeedsSubsystem() {
			prefixed = prefixedRegisterer(c.group, prefixed)
		}
		if s.NeedsNamespace() {
			prefixed = prefixedRegisterer(namespace, prefixed)
		}
		if err := prefixed.Register(c); err != nil {
			return fmt.Errorf("metrics: failed to register %s: %w", c.Name(), err)
		}
	}
	return nil
}
