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

package nvm

import (
	"reflect"
	"sort"
)

// DriverFeatureFlags are the capabilities reported by the driver.
type DriverFeatureFlags struct {
	GetPlatformCapabilities bool `json:"getPlatformCapabilities,omitempty"`
	GetTopology             bool `json:"getTopology,omitempty"`
	GetDimmDetail           bool `json:"getDimmDetail,omitempty"`
	Passthrough             bool `json:"passthrough,omitempty"`
	GetInterleave           bool `json:"getInterleave,omitempty"`
	GetAddressScrubData     bool `json:"getAddressScrubData,omitempty"`
	RunDiagnostic           bool `json:"runDiagnostic,omitempty"`
	AppDirectMode           bool `json:"appDirectMode,omitempty"`
	StorageMode             bool `json:"storageMode,omitempty"`
	GetNamespaces           bool `json:"getNamespaces,omitempty"`
	GetNamespaceDetails     bool `json:"getNamespaceDetails,omitempty"`
	CreateNamespace         bool `json:"createNamespace,omitempty"`
	RenameNamespace         bool `json:"renameNamespace,omitempty"`
	GrowNamespace           bool `json:"growNamespace,omitempty"`
	ShrinkNamespace         bool `json:"shrinkNamespace,omitempty"`
	EnableNamespace         bool `json:"enableNamespace,omitempty"`
	DisableNamespace        bool `json:"disableNamespace,omitempty"`
	DeleteNamespace         bool `json:"deleteNamespace,omitempty"`
}

// DimmSkuCapabilities aggregates SKU support across the DIMMs of the host.
type DimmSkuCapabilities struct {
	// Devices is the number of DIMMs in the topology, manageable or not.
	Devices              int  `json:"devices"`
	MixedSKU             bool `json:"mixedSku"`
	MemoryModeCapable    bool `json:"memoryModeCapable"`
	AppDirectModeCapable bool `json:"appDirectModeCapable"`
	StorageModeCapable   bool `json:"storageModeCapable"`
}

// NvmFeatureSet is the resolved set of management features that are
// currently legal on the host.
type NvmFeatureSet struct {
	GetPlatformCapabilities  bool `json:"getPlatformCapabilities"`
	GetDevices               bool `json:"getDevices"`
	GetDeviceSmbios          bool `json:"getDeviceSmbios"`
	GetDeviceHealth          bool `json:"getDeviceHealth"`
	GetDeviceSettings        bool `json:"getDeviceSettings"`
	ModifyDeviceSettings     bool `json:"modifyDeviceSettings"`
	GetDeviceSecurity        bool `json:"getDeviceSecurity"`
	ModifyDeviceSecurity     bool `json:"modifyDeviceSecurity"`
	GetDevicePerformance     bool `json:"getDevicePerformance"`
	GetDeviceFirmware        bool `json:"getDeviceFirmware"`
	UpdateDeviceFirmware     bool `json:"updateDeviceFirmware"`
	GetSensors               bool `json:"getSensors"`
	ModifySensors            bool `json:"modifySensors"`
	GetDeviceCapacity        bool `json:"getDeviceCapacity"`
	ModifyDeviceCapacity     bool `json:"modifyDeviceCapacity"`
	GetPools                 bool `json:"getPools"`
	GetNamespaces            bool `json:"getNamespaces"`
	GetNamespaceDetails      bool `json:"getNamespaceDetails"`
	CreateNamespace          bool `json:"createNamespace"`
	RenameNamespace          bool `json:"renameNamespace"`
	GrowNamespace            bool `json:"growNamespace"`
	ShrinkNamespace          bool `json:"shrinkNamespace"`
	EnableNamespace          bool `json:"enableNamespace"`
	DisableNamespace         bool `json:"disableNamespace"`
	DeleteNamespace          bool `json:"deleteNamespace"`
	GetAddressScrubData      bool `json:"getAddressScrubData"`
	StartAddressScrub        bool `json:"startAddressScrub"`
	QuickDiagnostic          bool `json:"quickDiagnostic"`
	PlatformConfigDiagnostic bool `json:"platformConfigDiagnostic"`
	PmMetadataDiagnostic     bool `json:"pmMetadataDiagnostic"`
	SecurityDiagnostic       bool `json:"securityDiagnostic"`
	FwConsistencyDiagnostic  bool `json:"fwConsistencyDiagnostic"`
	MemoryMode               bool `json:"memoryMode"`
	AppDirectMode            bool `json:"appDirectMode"`
	StorageMode              bool `json:"storageMode"`
	ErrorInjection           bool `json:"errorInjection"`
}

// ClearNamespaceFeatures turns off every namespace management feature.
func (f *NvmFeatureSet) ClearNamespaceFeatures() {
	f.GetNamespaces = false
	f.GetNamespaceDetails = false
	f.CreateNamespace = false
	f.RenameNamespace = false
	f.GrowNamespace = false
	f.ShrinkNamespace = false
	f.EnableNamespace = false
	f.DisableNamespace = false
	f.DeleteNamespace = false
}

// Enabled returns the JSON names of the enabled features, sorted.
func (f NvmFeatureSet) Enabled() []string {
	names := []string{}
	f.each(func(name string, on bool) {
		if on {
			names = append(names, name)
		}
	})
	sort.Strings(names)
	return names
}

// All returns the state of every feature keyed by its JSON name.
func (f NvmFeatureSet) All() map[string]bool {
	all := map[string]bool{}
	f.each(func(name string, on bool) {
		all[name] = on
	})
	return all
}

// IsSubsetOf returns true if every feature enabled in f is enabled in o.
func (f NvmFeatureSet) IsSubsetOf(o NvmFeatureSet) bool {
	other := o.All()
	for name, on := range f.All() {
		if on && !other[name] {
			return false
		}
	}
	return true
}

func (f NvmFeatureSet) each(fn func(string, bool)) {
	v := reflect.ValueOf(f)
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		fn(t.Field(i).Tag.Get("json"), v.Field(i).Bool())
	}
}
