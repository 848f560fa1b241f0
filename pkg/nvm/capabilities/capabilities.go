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

// Package capabilities resolves which management features are usable on
// a host from what the driver, the BIOS and the installed DIMMs support.
package capabilities

import (
	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

var log = logger.Get("capabilities")

// Provisional returns the feature set derived from the driver alone.
// Every later narrowing step can only clear features of this set.
func Provisional(d nvm.DriverFeatureFlags) nvm.NvmFeatureSet {
	f := nvm.NvmFeatureSet{
		GetPlatformCapabilities: d.GetPlatformCapabilities,
		GetDevices:              d.GetTopology,
	}

	if d.GetTopology {
		f.GetDeviceSmbios = d.GetDimmDetail
		f.GetDeviceHealth = d.Passthrough
		f.GetDeviceSettings = d.Passthrough
		f.ModifyDeviceSettings = d.Passthrough
		f.GetDeviceSecurity = d.Passthrough
		f.ModifyDeviceSecurity = d.Passthrough
		f.GetDevicePerformance = d.Passthrough
		f.GetDeviceFirmware = d.Passthrough
		f.UpdateDeviceFirmware = d.Passthrough
		f.GetSensors = d.Passthrough
		f.ModifySensors = d.Passthrough
		f.GetDeviceCapacity = d.Passthrough
		f.ModifyDeviceCapacity = d.GetPlatformCapabilities && d.Passthrough
		f.GetPools = d.Passthrough && d.GetInterleave
		f.GetAddressScrubData = d.GetAddressScrubData
		f.StartAddressScrub = d.Passthrough
		f.QuickDiagnostic = d.Passthrough
		f.SecurityDiagnostic = d.Passthrough
		f.PlatformConfigDiagnostic = d.GetPlatformCapabilities
		f.FwConsistencyDiagnostic = d.Passthrough
		f.ErrorInjection = d.Passthrough
		// The driver has no notion of memory mode. It is available if
		// there are devices, and the BIOS decides the rest.
		f.MemoryMode = true
	}

	f.GetNamespaces = d.GetNamespaces
	f.GetNamespaceDetails = d.GetNamespaceDetails
	f.CreateNamespace = d.CreateNamespace
	f.RenameNamespace = d.RenameNamespace
	f.GrowNamespace = d.GrowNamespace
	f.ShrinkNamespace = d.ShrinkNamespace
	f.EnableNamespace = d.EnableNamespace
	f.DisableNamespace = d.DisableNamespace
	f.DeleteNamespace = d.DeleteNamespace

	f.PmMetadataDiagnostic = d.RunDiagnostic
	f.AppDirectMode = d.AppDirectMode
	f.StorageMode = d.StorageMode

	return f
}

// Resolve combines the driver features, the BIOS platform capabilities and
// the aggregated DIMM SKU capabilities into the set of usable features.
// A nil platform means the PCAT could not be read and narrows nothing.
func Resolve(d nvm.DriverFeatureFlags, pc *nvm.PlatformCapabilities, sku nvm.DimmSkuCapabilities) nvm.NvmFeatureSet {
	f := Provisional(d)

	if sku.Devices == 0 {
		clearDeviceFeatures(&f)
	}

	if pc != nil {
		applyPlatform(&f, pc)
	} else {
		log.Debug("no platform capabilities, skipping BIOS narrowing")
	}

	applySku(&f, sku)

	if !f.AppDirectMode && !f.StorageMode {
		f.ClearNamespaceFeatures()
	}

	return f
}

func clearDeviceFeatures(f *nvm.NvmFeatureSet) {
	log.Debug("there are no devices in the system")

	*f = nvm.NvmFeatureSet{
		GetPlatformCapabilities: f.GetPlatformCapabilities,
		GetDevices:              f.GetDevices,
		GetNamespaces:           f.GetNamespaces,
		GetNamespaceDetails:     f.GetNamespaceDetails,
		CreateNamespace:         f.CreateNamespace,
		RenameNamespace:         f.RenameNamespace,
		GrowNamespace:           f.GrowNamespace,
		ShrinkNamespace:         f.ShrinkNamespace,
		EnableNamespace:         f.EnableNamespace,
		DisableNamespace:        f.DisableNamespace,
		DeleteNamespace:         f.DeleteNamespace,
		PmMetadataDiagnostic:    f.PmMetadataDiagnostic,
		AppDirectMode:           f.AppDirectMode,
		StorageMode:             f.StorageMode,
	}
}

func applyPlatform(f *nvm.NvmFeatureSet, pc *nvm.PlatformCapabilities) {
	if !pc.BIOSConfigSupport {
		f.ModifyDeviceCapacity = false
	}
	f.MemoryMode = f.MemoryMode && pc.MemoryMode.Supported
	if !pc.AppDirect.Supported {
		f.AppDirectMode = false
	}
	if !pc.StorageModeSupported {
		f.StorageMode = false
	}
}

func applySku(f *nvm.NvmFeatureSet, sku nvm.DimmSkuCapabilities) {
	if sku.MixedSKU {
		log.Warn("mixed DIMM SKUs, disabling capacity provisioning")
		f.ModifyDeviceCapacity = false
		f.ModifyDeviceSecurity = false
		f.ModifyDeviceSettings = false
		f.GetPools = false
		f.ClearNamespaceFeatures()
	}
	if !sku.MemoryModeCapable {
		f.MemoryMode = false
	}
	if !sku.AppDirectModeCapable {
		f.AppDirectMode = false
	}
	if !sku.StorageModeCapable {
		f.StorageMode = false
	}
}

// AggregateSku summarizes the SKUs of the given devices. The SKU of every
// device counts towards mixed SKU detection, while only manageable
// devices contribute supported modes.
func AggregateSku(devices []nvm.DeviceDiscovery) nvm.DimmSkuCapabilities {
	sku := nvm.DimmSkuCapabilities{
		Devices: len(devices),
	}

	for i, d := range devices {
		if i > 0 && d.SKU != devices[0].SKU {
			sku.MixedSKU = true
		}
		if !d.IsManageable() {
			continue
		}
		if d.Capabilities.MemoryModeCapable {
			sku.MemoryModeCapable = true
		}
		if d.Capabilities.AppDirectModeCapable {
			sku.AppDirectModeCapable = true
		}
		if d.Capabilities.StorageModeCapable {
			sku.StorageModeCapable = true
		}
	}

	return sku
}
