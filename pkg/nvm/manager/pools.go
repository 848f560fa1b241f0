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

package manager

import (
	"context"
	"fmt"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
	"github.com/intel/nvm-capacity/pkg/nvm/pool"
)

// Pools returns the capacity pools of the host.
func (m *Manager) Pools(ctx context.Context) ([]nvm.Pool, error) {
	if pools, ok := m.cache.Pools(); ok {
		return pools, nil
	}

	caps, err := m.Capabilities(ctx)
	if err != nil {
		return nil, err
	}
	if !caps.Features.GetPools {
		return nil, fmt.Errorf("%w: getting pools", nvm.ErrNotSupported)
	}

	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	capacities, err := m.transport.Capacities(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: capacities: %w", nvm.ErrDriverFailed, err)
	}

	var namespaces []nvm.Namespace
	if caps.Features.GetNamespaces {
		if namespaces, err = m.transport.Namespaces(ctx); err != nil {
			return nil, fmt.Errorf("%w: namespaces: %w", nvm.ErrDriverFailed, err)
		}
	}

	sets, err := m.interleaveSets(ctx, devices)
	if err != nil {
		return nil, err
	}

	a := &pool.Assembler{Host: m.host, MaxPools: m.maxPools}
	pools, err := a.Assemble(caps.Features, devices, capacities, sets, namespaces)
	if err != nil {
		return nil, err
	}

	m.cache.SetPools(pools)
	if err := m.cache.Save(); err != nil {
		log.Warn("failed to save cache: %v", err)
	}

	return pools, nil
}

// interleaveSets derives the interleave sets of the host from the current
// config of every manageable DIMM. DIMMs with unreadable platform config
// data are left out.
func (m *Manager) interleaveSets(ctx context.Context, devices []nvm.DeviceDiscovery) ([]nvm.InterleaveSet, error) {
	pcds := make(map[nvm.DeviceHandle]*pcd.PlatformConfigData)
	for i := range devices {
		d := &devices[i]
		if !d.IsManageable() {
			continue
		}
		p, err := m.platformConfig(ctx, d.Handle)
		if err != nil {
			log.Warn("DIMM %s: skipping platform config: %v", d.UID, err)
			continue
		}
		pcds[d.Handle] = p
	}
	return pool.SetsFromCurrentConfig(devices, pcds)
}
