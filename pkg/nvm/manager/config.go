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
	"io"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/goal"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
)

// targets returns the DIMMs with the given UIDs, or every manageable DIMM
// if none are given.
func targets(devices []nvm.DeviceDiscovery, uids []string) ([]*nvm.DeviceDiscovery, error) {
	var result []*nvm.DeviceDiscovery
	if len(uids) == 0 {
		for i := range devices {
			if devices[i].IsManageable() {
				result = append(result, &devices[i])
			}
		}
		return result, nil
	}

	for _, uid := range uids {
		d, err := device(devices, uid)
		if err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, nil
}

// DumpConfig writes the current configuration of the given DIMMs, or of
// every manageable DIMM, in the format LoadConfig reads. DIMMs without a
// current configuration are skipped.
func (m *Manager) DumpConfig(ctx context.Context, w io.Writer, uids ...string) error {
	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	dimms, err := targets(devices, uids)
	if err != nil {
		return err
	}

	header := true
	for _, d := range dimms {
		p, err := m.platformConfig(ctx, d.Handle)
		if err != nil {
			return err
		}
		if p.Current == nil {
			log.Info("DIMM %s: no current config, skipping", d.UID)
			continue
		}

		g, err := pcd.Interpret(d, devices, p.Current.Bytes())
		if err != nil {
			return err
		}
		if err := goal.WriteDimmConfig(w, d, g, header); err != nil {
			return err
		}
		header = false
	}

	return nil
}

// LoadConfig reads a configuration dump and creates a config goal from it
// for the given DIMMs, or for every manageable DIMM. It stops at the first
// DIMM that fails.
func (m *Manager) LoadConfig(ctx context.Context, r io.Reader, uids ...string) error {
	configs, err := goal.ReadDimmConfig(r)
	if err != nil {
		return err
	}

	devices, err := m.transport.Devices(ctx)
	if err != nil {
		return fmt.Errorf("%w: devices: %w", nvm.ErrDriverFailed, err)
	}
	dimms, err := targets(devices, uids)
	if err != nil {
		return err
	}

	for _, d := range dimms {
		g, err := goal.LoadGoal(configs, d, devices)
		if err != nil {
			return err
		}
		if err := m.CreateGoal(ctx, d.UID, g); err != nil {
			return fmt.Errorf("DIMM %s: %w", d.UID, err)
		}
	}

	return nil
}
