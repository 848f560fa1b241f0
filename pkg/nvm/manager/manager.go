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

// Package manager implements the capacity management operations of a host
// on top of a transport to its firmware.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/host"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/cache"
	"github.com/intel/nvm-capacity/pkg/nvm/capabilities"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
	"github.com/intel/nvm-capacity/pkg/nvm/pcat"
	"github.com/intel/nvm-capacity/pkg/nvm/store"
	"github.com/intel/nvm-capacity/pkg/nvm/transport"
)

var log = logger.Get("manager")

// ChangeFunc is called with the UID of a DIMM after its config goal changed.
type ChangeFunc func(uid string)

// Manager runs capacity management operations. It is safe for concurrent
// use. Changes to the platform config data of a DIMM are serialized.
type Manager struct {
	transport transport.Transport
	cache     *cache.Cache
	store     *store.Store
	events    *events.Log
	host      string
	maxPools  int
	onChange  ChangeFunc

	sync.Mutex
	locks map[nvm.DeviceHandle]*sync.Mutex
}

// Option is an option for the manager.
type Option func(*Manager)

// WithCache sets the snapshot cache to use.
func WithCache(c *cache.Cache) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithStore mirrors every platform config data change into s.
func WithStore(s *store.Store) Option {
	return func(m *Manager) {
		m.store = s
	}
}

// WithEvents sets the event log to report diagnostics to.
func WithEvents(ev *events.Log) Option {
	return func(m *Manager) {
		m.events = ev
	}
}

// WithHost overrides the host name pool UIDs are derived from.
func WithHost(name string) Option {
	return func(m *Manager) {
		m.host = name
	}
}

// WithMaxPools limits the number of pools reported.
func WithMaxPools(n int) Option {
	return func(m *Manager) {
		m.maxPools = n
	}
}

// WithOnChange sets a function to call after a config goal changed.
func WithOnChange(fn ChangeFunc) Option {
	return func(m *Manager) {
		m.onChange = fn
	}
}

// New creates a manager for the host behind t.
func New(t transport.Transport, options ...Option) *Manager {
	m := &Manager{
		transport: t,
		locks:     make(map[nvm.DeviceHandle]*sync.Mutex),
	}
	for _, o := range options {
		o(m)
	}

	if m.cache == nil {
		m.cache = cache.New(cache.Options{})
	}
	if m.events == nil {
		m.events = events.New()
	}
	if m.host == "" {
		m.host = hostName()
	}

	return m
}

func hostName() string {
	info, err := host.Info()
	if err != nil || info.Hostname == "" {
		log.Warn("failed to get host name, using localhost: %v", err)
		return "localhost"
	}
	return info.Hostname
}

// Host returns the host name pool UIDs are derived from.
func (m *Manager) Host() string {
	return m.host
}

// Events returns the event log of the manager.
func (m *Manager) Events() *events.Log {
	return m.events
}

// Invalidate drops cached capabilities and pools, for instance after the
// DIMMs or namespaces of the host changed.
func (m *Manager) Invalidate() {
	m.cache.Invalidate()
}

// lock serializes access to the platform config data of a DIMM.
func (m *Manager) lock(handle nvm.DeviceHandle) func() {
	m.Lock()
	l, ok := m.locks[handle]
	if !ok {
		l = &sync.Mutex{}
		m.locks[handle] = l
	}
	m.Unlock()

	l.Lock()
	return l.Unlock
}

// Capabilities returns the resolved capabilities of the host.
func (m *Manager) Capabilities(ctx context.Context) (*cache.Capabilities, error) {
	if caps, ok := m.cache.Capabilities(); ok {
		return caps, nil
	}

	driver, err := m.transport.DriverCapabilities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: driver capabilities: %w", nvm.ErrDriverFailed, err)
	}

	platform, err := m.platformCapabilities(ctx)
	if err != nil {
		return nil, err
	}

	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}

	sku := capabilities.AggregateSku(devices)
	caps := &cache.Capabilities{
		Driver:   driver,
		Platform: platform,
		Sku:      sku,
		Features: capabilities.Resolve(driver, platform, sku),
	}

	log.Debug("resolved capabilities of %d DIMMs, enabled features: %v",
		len(devices), caps.Features.Enabled())

	m.cache.SetCapabilities(caps)
	return caps, nil
}

// platformCapabilities reads the PCAT. A missing or unparsable table is
// reported as nil.
func (m *Manager) platformCapabilities(ctx context.Context) (*nvm.PlatformCapabilities, error) {
	raw, err := m.transport.PlatformCapabilities(ctx)
	if err != nil {
		if errors.Is(err, nvm.ErrNotFound) {
			log.Info("no platform capabilities table")
			return nil, nil
		}
		return nil, err
	}

	pc, err := pcat.Parse(raw)
	if err != nil {
		log.Warn("ignoring platform capabilities: %v", err)
		return nil, nil
	}
	return pc, nil
}

// device looks up a DIMM by UID.
func device(devices []nvm.DeviceDiscovery, uid string) (*nvm.DeviceDiscovery, error) {
	for i := range devices {
		if devices[i].UID == uid {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("%w: DIMM %s", nvm.ErrNotFound, uid)
}

// CheckSkuViolations checks every manageable DIMM against its license and
// returns the first violation found.
func (m *Manager) CheckSkuViolations(ctx context.Context) error {
	caps, err := m.Capabilities(ctx)
	if err != nil {
		return err
	}

	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	capacities, err := m.transport.Capacities(ctx)
	if err != nil {
		return fmt.Errorf("%w: capacities: %w", nvm.ErrDriverFailed, err)
	}
	namespaces, err := m.transport.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("%w: namespaces: %w", nvm.ErrDriverFailed, err)
	}
	sets, err := m.interleaveSets(ctx, devices)
	if err != nil {
		return err
	}

	var first error
	for i := range devices {
		d := &devices[i]
		if !d.IsManageable() {
			continue
		}
		c := nvm.DeviceCapacities{Handle: d.Handle}
		for _, dc := range capacities {
			if dc.Handle == d.Handle {
				c = dc
				break
			}
		}
		err := capabilities.CheckSkuViolation(caps.Features, d, c, namespacesOn(d.Handle, namespaces, sets), m.events)
		if err != nil && first == nil {
			first = err
		}
	}

	return first
}

// namespacesOn returns the namespaces that use capacity of a DIMM.
func namespacesOn(handle nvm.DeviceHandle, namespaces []nvm.Namespace, sets []nvm.InterleaveSet) []nvm.Namespace {
	var result []nvm.Namespace
	for _, ns := range namespaces {
		switch ns.Type {
		case nvm.NamespaceTypeAppDirect:
			for _, set := range sets {
				if set.DriverID != ns.InterleaveSetID {
					continue
				}
				for _, d := range set.Dimms {
					if d.Handle == handle {
						result = append(result, ns)
					}
				}
			}
		default:
			if ns.Handle == handle {
				result = append(result, ns)
			}
		}
	}
	return result
}
