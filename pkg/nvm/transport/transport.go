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

// Package transport provides access to the firmware tables and the
// topology of the DIMMs of a host.
package transport

import (
	"context"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

// Transport reads and writes the firmware state of the host. Writes to
// the platform config data of a single DIMM must be serialized by the
// caller.
type Transport interface {
	// DriverCapabilities returns the features the driver supports.
	DriverCapabilities(ctx context.Context) (nvm.DriverFeatureFlags, error)
	// PlatformCapabilities returns the raw PCAT. It returns nvm.ErrNotFound
	// if the BIOS does not provide one.
	PlatformCapabilities(ctx context.Context) ([]byte, error)
	// Devices returns the DIMMs of the host.
	Devices(ctx context.Context) ([]nvm.DeviceDiscovery, error)
	// Capacities returns the capacity breakdown of every DIMM.
	Capacities(ctx context.Context) ([]nvm.DeviceCapacities, error)
	// Namespaces returns the namespaces of the host.
	Namespaces(ctx context.Context) ([]nvm.Namespace, error)
	// PlatformConfig returns the raw platform config data of a DIMM. It
	// returns nvm.ErrNotFound if the DIMM has none.
	PlatformConfig(ctx context.Context, handle nvm.DeviceHandle) ([]byte, error)
	// SetPlatformConfig replaces the platform config data of a DIMM.
	SetPlatformConfig(ctx context.Context, handle nvm.DeviceHandle, data []byte) error
}
