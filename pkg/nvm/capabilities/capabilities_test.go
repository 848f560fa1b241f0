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

package capabilities_test

import (
	"errors"
	"testing"

	"github.com/intel/nvm-capacity/pkg/nvm"
	. "github.com/intel/nvm-capacity/pkg/nvm/capabilities"
	"github.com/intel/nvm-capacity/pkg/nvm/events"

	"github.com/stretchr/testify/require"
)

func driverFromBits(bits int) nvm.DriverFeatureFlags {
	ns := bits&(1<<8) != 0
	return nvm.DriverFeatureFlags{
		GetPlatformCapabilities: bits&(1<<0) != 0,
		GetTopology:             bits&(1<<1) != 0,
		GetDimmDetail:           bits&(1<<2) != 0,
		Passthrough:             bits&(1<<3) != 0,
		GetInterleave:           bits&(1<<4) != 0,
		GetAddressScrubData:     bits&(1<<5) != 0,
		RunDiagnostic:           bits&(1<<6) != 0,
		AppDirectMode:           bits&(1<<7) != 0,
		StorageMode:             bits&(1<<9) != 0,
		GetNamespaces:           ns,
		GetNamespaceDetails:     ns,
		CreateNamespace:         ns,
		RenameNamespace:         ns,
		GrowNamespace:           ns,
		ShrinkNamespace:         ns,
		EnableNamespace:         ns,
		DisableNamespace:        ns,
		DeleteNamespace:         ns,
	}
}

func fullDriver() nvm.DriverFeatureFlags {
	return driverFromBits(1<<10 - 1)
}

func fullPlatform() *nvm.PlatformCapabilities {
	return &nvm.PlatformCapabilities{
		BIOSConfigSupport:    true,
		MirrorSupported:      true,
		StorageModeSupported: true,
		MemoryMode:           nvm.MemoryCapability{Supported: true},
		AppDirect:            nvm.MemoryCapability{Supported: true},
	}
}

func fullSku() nvm.DimmSkuCapabilities {
	return nvm.DimmSkuCapabilities{
		Devices:              2,
		MemoryModeCapable:    true,
		AppDirectModeCapable: true,
		StorageModeCapable:   true,
	}
}

func TestResolveIsMonotone(t *testing.T) {
	platforms := []*nvm.PlatformCapabilities{nil}
	for bits := 0; bits < 16; bits++ {
		pc := fullPlatform()
		pc.BIOSConfigSupport = bits&1 != 0
		pc.MemoryMode.Supported = bits&2 != 0
		pc.AppDirect.Supported = bits&4 != 0
		pc.StorageModeSupported = bits&8 != 0
		platforms = append(platforms, pc)
	}

	skus := []nvm.DimmSkuCapabilities{}
	for bits := 0; bits < 32; bits++ {
		sku := nvm.DimmSkuCapabilities{
			Devices:              (bits & 1) * 2,
			MixedSKU:             bits&2 != 0,
			MemoryModeCapable:    bits&4 != 0,
			AppDirectModeCapable: bits&8 != 0,
			StorageModeCapable:   bits&16 != 0,
		}
		skus = append(skus, sku)
	}

	for bits := 0; bits < 1<<10; bits++ {
		d := driverFromBits(bits)
		provisional := Provisional(d)
		for _, pc := range platforms {
			for _, sku := range skus {
				f := Resolve(d, pc, sku)
				if !f.IsSubsetOf(provisional) {
					t.Fatalf("driver %+v, platform %+v, sku %+v: %v not a subset of %v",
						d, pc, sku, f.Enabled(), provisional.Enabled())
				}
			}
		}
	}
}

func TestProvisional(t *testing.T) {
	type testCase struct {
		name   string
		driver nvm.DriverFeatureFlags
		check  func(*testing.T, nvm.NvmFeatureSet)
	}

	for _, tc := range []*testCase{
		{
			name:   "no topology",
			driver: nvm.DriverFeatureFlags{Passthrough: true, GetPlatformCapabilities: true},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.GetPlatformCapabilities)
				require.False(t, f.GetDevices)
				require.False(t, f.GetDeviceHealth)
				require.False(t, f.ModifyDeviceCapacity)
				require.False(t, f.MemoryMode)
			},
		},
		{
			name:   "topology without passthrough",
			driver: nvm.DriverFeatureFlags{GetTopology: true, GetPlatformCapabilities: true},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.GetDevices)
				require.True(t, f.MemoryMode)
				require.True(t, f.PlatformConfigDiagnostic)
				require.False(t, f.GetDeviceCapacity)
				require.False(t, f.ModifyDeviceCapacity)
			},
		},
		{
			name:   "capacity needs platform capabilities",
			driver: nvm.DriverFeatureFlags{GetTopology: true, Passthrough: true},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.GetDeviceCapacity)
				require.False(t, f.ModifyDeviceCapacity)
			},
		},
		{
			name:   "pools need interleave",
			driver: nvm.DriverFeatureFlags{GetTopology: true, Passthrough: true, GetPlatformCapabilities: true},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.ModifyDeviceCapacity)
				require.False(t, f.GetPools)
			},
		},
		{
			name:   "everything",
			driver: fullDriver(),
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.GetPools)
				require.True(t, f.ModifyDeviceCapacity)
				require.True(t, f.AppDirectMode)
				require.True(t, f.StorageMode)
				require.True(t, f.CreateNamespace)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, Provisional(tc.driver))
		})
	}
}

func TestResolve(t *testing.T) {
	type testCase struct {
		name     string
		platform func() *nvm.PlatformCapabilities
		sku      func() nvm.DimmSkuCapabilities
		check    func(*testing.T, nvm.NvmFeatureSet)
	}

	for _, tc := range []*testCase{
		{
			name:     "fully capable",
			platform: fullPlatform,
			sku:      fullSku,
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.Equal(t, Provisional(fullDriver()), f)
			},
		},
		{
			name:     "missing platform narrows nothing",
			platform: func() *nvm.PlatformCapabilities { return nil },
			sku:      fullSku,
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.Equal(t, Provisional(fullDriver()), f)
			},
		},
		{
			name: "no BIOS config support",
			platform: func() *nvm.PlatformCapabilities {
				pc := fullPlatform()
				pc.BIOSConfigSupport = false
				return pc
			},
			sku: fullSku,
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.False(t, f.ModifyDeviceCapacity)
				require.True(t, f.GetDeviceCapacity)
			},
		},
		{
			name: "memory mode from BIOS",
			platform: func() *nvm.PlatformCapabilities {
				pc := fullPlatform()
				pc.MemoryMode.Supported = false
				return pc
			},
			sku: fullSku,
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.False(t, f.MemoryMode)
				require.True(t, f.AppDirectMode)
			},
		},
		{
			name:     "mixed SKU",
			platform: fullPlatform,
			sku: func() nvm.DimmSkuCapabilities {
				sku := fullSku()
				sku.MixedSKU = true
				return sku
			},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.False(t, f.ModifyDeviceCapacity)
				require.False(t, f.GetPools)
				require.False(t, f.CreateNamespace)
				require.False(t, f.GetNamespaces)
				require.True(t, f.GetDeviceCapacity)
			},
		},
		{
			name:     "memory mode only SKU",
			platform: fullPlatform,
			sku: func() nvm.DimmSkuCapabilities {
				sku := fullSku()
				sku.AppDirectModeCapable = false
				sku.StorageModeCapable = false
				return sku
			},
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.MemoryMode)
				require.False(t, f.AppDirectMode)
				require.False(t, f.StorageMode)
				require.False(t, f.GetNamespaces)
				require.False(t, f.DeleteNamespace)
			},
		},
		{
			name: "storage keeps namespaces",
			platform: func() *nvm.PlatformCapabilities {
				pc := fullPlatform()
				pc.AppDirect.Supported = false
				return pc
			},
			sku: fullSku,
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.False(t, f.AppDirectMode)
				require.True(t, f.StorageMode)
				require.True(t, f.CreateNamespace)
			},
		},
		{
			name:     "no devices",
			platform: fullPlatform,
			sku:      func() nvm.DimmSkuCapabilities { return nvm.DimmSkuCapabilities{} },
			check: func(t *testing.T, f nvm.NvmFeatureSet) {
				require.True(t, f.GetDevices)
				require.False(t, f.GetDeviceHealth)
				require.False(t, f.MemoryMode)
				require.False(t, f.GetNamespaces)
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.check(t, Resolve(fullDriver(), tc.platform(), tc.sku()))
		})
	}
}

func TestAggregateSku(t *testing.T) {
	dimm := func(sku uint32, m nvm.Manageability, caps nvm.DeviceCapabilities) nvm.DeviceDiscovery {
		return nvm.DeviceDiscovery{SKU: sku, Manageability: m, Capabilities: caps}
	}
	ad := nvm.DeviceCapabilities{AppDirectModeCapable: true}
	all := nvm.DeviceCapabilities{MemoryModeCapable: true, AppDirectModeCapable: true, StorageModeCapable: true}

	type testCase struct {
		name    string
		devices []nvm.DeviceDiscovery
		result  nvm.DimmSkuCapabilities
	}

	for _, tc := range []*testCase{
		{
			name:   "no devices",
			result: nvm.DimmSkuCapabilities{},
		},
		{
			name: "uniform",
			devices: []nvm.DeviceDiscovery{
				dimm(0x2, nvm.Manageable, ad),
				dimm(0x2, nvm.Manageable, ad),
			},
			result: nvm.DimmSkuCapabilities{Devices: 2, AppDirectModeCapable: true},
		},
		{
			name: "mixed",
			devices: []nvm.DeviceDiscovery{
				dimm(0x2, nvm.Manageable, ad),
				dimm(0x7, nvm.Manageable, all),
			},
			result: nvm.DimmSkuCapabilities{
				Devices:              2,
				MixedSKU:             true,
				MemoryModeCapable:    true,
				AppDirectModeCapable: true,
				StorageModeCapable:   true,
			},
		},
		{
			name: "unmanageable ignored for modes",
			devices: []nvm.DeviceDiscovery{
				dimm(0x2, nvm.Manageable, ad),
				dimm(0x7, nvm.Unmanageable, all),
			},
			result: nvm.DimmSkuCapabilities{Devices: 2, MixedSKU: true, AppDirectModeCapable: true},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.result, AggregateSku(tc.devices))
		})
	}
}

func TestCheckSkuViolation(t *testing.T) {
	device := &nvm.DeviceDiscovery{UID: "8089-a2-1748-00000001", Handle: 0x1001}

	type testCase struct {
		name       string
		features   func(*nvm.NvmFeatureSet)
		capacities nvm.DeviceCapacities
		namespaces []nvm.Namespace
		err        error
		events     int
	}

	for _, tc := range []*testCase{
		{
			name: "no violation",
			namespaces: []nvm.Namespace{
				{Type: nvm.NamespaceTypeAppDirect, InterleaveSetID: 1},
			},
		},
		{
			name:     "capacity unavailable",
			features: func(f *nvm.NvmFeatureSet) { f.GetDeviceCapacity = false },
			err:      nvm.ErrNotSupported,
		},
		{
			name:       "inaccessible capacity",
			capacities: nvm.DeviceCapacities{InaccessibleCapacity: nvm.GiB(4)},
			err:        nvm.ErrConfigNotSupported,
			events:     1,
		},
		{
			name:     "storage namespace without storage mode",
			features: func(f *nvm.NvmFeatureSet) { f.StorageMode = false },
			namespaces: []nvm.Namespace{
				{Type: nvm.NamespaceTypeStorage, Handle: device.Handle},
			},
			err:    nvm.ErrConfigNotSupported,
			events: 1,
		},
		{
			name: "every check runs",
			features: func(f *nvm.NvmFeatureSet) {
				f.StorageMode = false
				f.AppDirectMode = false
			},
			capacities: nvm.DeviceCapacities{InaccessibleCapacity: 1},
			namespaces: []nvm.Namespace{
				{Type: nvm.NamespaceTypeStorage, Handle: device.Handle},
				{Type: nvm.NamespaceTypeAppDirect, InterleaveSetID: 2},
			},
			err:    nvm.ErrConfigNotSupported,
			events: 3,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			f := Resolve(fullDriver(), fullPlatform(), fullSku())
			if tc.features != nil {
				tc.features(&f)
			}
			ev := events.New()
			err := CheckSkuViolation(f, device, tc.capacities, tc.namespaces, ev)
			if tc.err == nil {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, tc.err), "unexpected error %v", err)
			}
			require.Equal(t, tc.events, ev.Count(events.SkuViolation))
		})
	}
}

func TestCheckSkuViolationFirstErrorWins(t *testing.T) {
	f := Resolve(fullDriver(), fullPlatform(), fullSku())
	f.AppDirectMode = false
	device := &nvm.DeviceDiscovery{UID: "dimm0"}

	err := CheckSkuViolation(f, device, nvm.DeviceCapacities{InaccessibleCapacity: 1},
		[]nvm.Namespace{{Type: nvm.NamespaceTypeAppDirect}}, nil)
	require.ErrorIs(t, err, nvm.ErrConfigNotSupported)
	require.Contains(t, err.Error(), "inaccessible")
}
