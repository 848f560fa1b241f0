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
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/cache"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
	"github.com/intel/nvm-capacity/pkg/nvm/goal"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
)

// platformConfig reads and parses the platform config data of a DIMM. A
// DIMM without any is given empty platform config data.
func (m *Manager) platformConfig(ctx context.Context, handle nvm.DeviceHandle) (*pcd.PlatformConfigData, error) {
	raw, err := m.transport.PlatformConfig(ctx, handle)
	if err != nil {
		if errors.Is(err, nvm.ErrNotFound) {
			return pcd.NewPlatformConfigData(nil, nil, nil), nil
		}
		return nil, fmt.Errorf("%w: platform config of DIMM %s: %w", nvm.ErrDriverFailed, handle, err)
	}
	return pcd.Parse(raw)
}

// setPlatformConfig writes the platform config data of a DIMM and mirrors
// it into the store.
func (m *Manager) setPlatformConfig(ctx context.Context, handle nvm.DeviceHandle, p *pcd.PlatformConfigData) error {
	blob, err := p.Bytes()
	if err != nil {
		return err
	}
	if err := m.transport.SetPlatformConfig(ctx, handle, blob); err != nil {
		return fmt.Errorf("%w: failed to write platform config of DIMM %s: %w", nvm.ErrDriverFailed, handle, err)
	}

	m.cache.Invalidate()

	var result *multierror.Error
	if m.store != nil {
		if err := m.store.Update(handle, blob); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := m.cache.Save(); err != nil {
		result = multierror.Append(result, err)
	}

	if result == nil {
		return nil
	}
	for _, err := range result.Errors[1:] {
		log.Error("DIMM %s: %v", handle, err)
	}
	return result.Errors[0]
}

// modifiable looks up a manageable DIMM whose capacity may be changed.
func (m *Manager) modifiable(ctx context.Context, uid string) (*cache.Capabilities, *nvm.DeviceDiscovery, []nvm.DeviceDiscovery, error) {
	caps, err := m.Capabilities(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	if !caps.Features.ModifyDeviceCapacity {
		return nil, nil, nil, fmt.Errorf("%w: modifying device capacity", nvm.ErrNotSupported)
	}

	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	d, err := device(devices, uid)
	if err != nil {
		return nil, nil, nil, err
	}
	if !d.IsManageable() {
		return nil, nil, nil, fmt.Errorf("%w: DIMM %s is not manageable", nvm.ErrBadDevice, uid)
	}
	return caps, d, devices, nil
}

// CreateGoal validates a config goal for the DIMM with the given UID and
// submits it to the BIOS, replacing any pending goal. The goal takes effect
// at the next boot.
func (m *Manager) CreateGoal(ctx context.Context, uid string, g *nvm.ConfigGoal) error {
	caps, d, devices, err := m.modifiable(ctx, uid)
	if err != nil {
		return err
	}

	if err := m.checkNamespaces(ctx, d, devices); err != nil {
		return err
	}

	if err := goal.Validate(g, caps.Features, d, caps.Platform, m.events); err != nil {
		return err
	}

	ordered, err := orderExtents(g, d, devices, caps.Platform)
	if err != nil {
		return err
	}

	unlock := m.lock(d.Handle)
	defer unlock()

	p, err := m.platformConfig(ctx, d.Handle)
	if err != nil {
		return err
	}

	seq := p.LastOutputSequence() + 1
	input, err := pcd.Compile(ordered, d, devices, seq)
	if err != nil {
		return err
	}

	if err := m.setPlatformConfig(ctx, d.Handle, pcd.NewPlatformConfigData(p.Current, input, nil)); err != nil {
		return err
	}

	m.events.Emit(events.ConfigGoalCreated, uid, "config goal %d created", seq)
	log.Info("DIMM %s: created config goal %d", uid, seq)

	if m.onChange != nil {
		m.onChange(uid)
	}
	return nil
}

// checkNamespaces refuses to change a DIMM whose capacity is used by a
// namespace.
func (m *Manager) checkNamespaces(ctx context.Context, d *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery) error {
	namespaces, err := m.transport.Namespaces(ctx)
	if err != nil {
		return fmt.Errorf("%w: namespaces: %w", nvm.ErrDriverFailed, err)
	}
	if len(namespaces) == 0 {
		return nil
	}

	sets, err := m.interleaveSets(ctx, devices)
	if err != nil {
		return err
	}
	if ns := namespacesOn(d.Handle, namespaces, sets); len(ns) > 0 {
		return fmt.Errorf("%w: %d namespaces on DIMM %s", nvm.ErrNamespacesExist, len(ns), d.UID)
	}
	return nil
}

// orderExtents returns a copy of the goal with the DIMMs of each app
// direct extent checked against the interleave rules and put in the order
// the platform expects.
func orderExtents(g *nvm.ConfigGoal, d *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery,
	platform *nvm.PlatformCapabilities) (*nvm.ConfigGoal, error) {
	revision := uint8(0)
	if platform != nil {
		revision = platform.Revision
	}

	ordered := *g
	ordered.AppDirect = make([]nvm.AppDirectExtent, len(g.AppDirect))
	for i, ext := range g.AppDirect {
		uids := ext.Dimms
		if len(uids) == 0 {
			uids = []string{d.UID}
		}

		dimms := make([]nvm.DeviceDiscovery, 0, len(uids))
		for _, uid := range uids {
			member, err := device(devices, uid)
			if err != nil {
				return nil, fmt.Errorf("%w: app direct %d: %w", nvm.ErrBadDevice, i+1, err)
			}
			dimms = append(dimms, *member)
		}

		if err := goal.VerifyInterleaveSetRules(dimms); err != nil {
			return nil, fmt.Errorf("app direct %d: %w", i+1, err)
		}
		goal.OrderDimms(dimms, revision)

		ext.Dimms = make([]string, len(dimms))
		for j := range dimms {
			ext.Dimms[j] = dimms[j].UID
		}
		ordered.AppDirect[i] = ext
	}

	return &ordered, nil
}

// Goal returns the pending config goal of a DIMM and the state of its
// processing by the BIOS.
func (m *Manager) Goal(ctx context.Context, uid string) (*nvm.ConfigGoal, error) {
	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	d, err := device(devices, uid)
	if err != nil {
		return nil, err
	}

	p, err := m.platformConfig(ctx, d.Handle)
	if err != nil {
		return nil, err
	}
	if p.Input == nil {
		return nil, fmt.Errorf("%w: no config goal for DIMM %s", nvm.ErrNotFound, uid)
	}

	g, err := pcd.Interpret(d, devices, p.Input.Bytes())
	if err != nil {
		return nil, err
	}
	if g.Status, err = pcd.StatusFrom(p); err != nil {
		return nil, err
	}
	return g, nil
}

// DeleteGoal withdraws the pending config goal of a DIMM.
func (m *Manager) DeleteGoal(ctx context.Context, uid string) error {
	_, d, _, err := m.modifiable(ctx, uid)
	if err != nil {
		return err
	}

	unlock := m.lock(d.Handle)
	defer unlock()

	p, err := m.platformConfig(ctx, d.Handle)
	if err != nil {
		return err
	}
	if p.Input == nil {
		return fmt.Errorf("%w: no config goal for DIMM %s", nvm.ErrNotFound, uid)
	}

	if err := m.setPlatformConfig(ctx, d.Handle, pcd.NewPlatformConfigData(p.Current, nil, nil)); err != nil {
		return err
	}

	m.events.Emit(events.ConfigGoalDeleted, uid, "config goal %d deleted", p.Input.Sequence)
	log.Info("DIMM %s: deleted config goal %d", uid, p.Input.Sequence)

	if m.onChange != nil {
		m.onChange(uid)
	}
	return nil
}

// GoalStatus returns the status of the config goal of every manageable
// DIMM that has one, by UID.
func (m *Manager) GoalStatus(ctx context.Context) (map[string]nvm.ConfigGoalStatus, error) {
	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}

	status := make(map[string]nvm.ConfigGoalStatus)
	for i := range devices {
		d := &devices[i]
		if !d.IsManageable() {
			continue
		}
		p, err := m.platformConfig(ctx, d.Handle)
		if err != nil {
			log.Warn("DIMM %s: %v", d.UID, err)
			continue
		}
		s, err := pcd.StatusFrom(p)
		if err != nil {
			continue
		}
		status[d.UID] = s
	}
	return status, nil
}
