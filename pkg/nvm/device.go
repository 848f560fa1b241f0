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

import "fmt"

// DeviceHandle is the ACPI NFIT device handle of a DIMM.
type DeviceHandle uint32

// NewDeviceHandle composes a handle from its topology parts.
func NewDeviceHandle(socket, imc, channel, pos uint16) DeviceHandle {
	return DeviceHandle(uint32(pos&0xf) |
		uint32(channel&0xf)<<4 |
		uint32(imc&0xf)<<8 |
		uint32(socket&0xf)<<12)
}

// ChannelPos returns the DIMM position within its channel.
func (h DeviceHandle) ChannelPos() uint16 { return uint16(h & 0xf) }

// Channel returns the memory channel of the DIMM.
func (h DeviceHandle) Channel() uint16 { return uint16((h >> 4) & 0xf) }

// MemoryController returns the memory controller of the DIMM.
func (h DeviceHandle) MemoryController() uint16 { return uint16((h >> 8) & 0xf) }

// Socket returns the processor socket of the DIMM.
func (h DeviceHandle) Socket() uint16 { return uint16((h >> 12) & 0xf) }

// NodeController returns the node controller of the DIMM.
func (h DeviceHandle) NodeController() uint16 { return uint16((h >> 16) & 0xfff) }

func (h DeviceHandle) String() string {
	return fmt.Sprintf("0x%04x", uint32(h))
}

// Manageability tells whether the software can manage a DIMM.
type Manageability int

const (
	ManageabilityUnknown Manageability = iota
	Manageable
	Unmanageable
)

var manageabilityNames = map[Manageability]string{
	ManageabilityUnknown: "unknown",
	Manageable:           "manageable",
	Unmanageable:         "unmanageable",
}

func (m Manageability) String() string { return enumString(manageabilityNames, m, "Manageability") }

func (m Manageability) MarshalJSON() ([]byte, error) {
	return marshalEnum(manageabilityNames, m, "manageability")
}

func (m *Manageability) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(manageabilityNames, data, m, "manageability")
}

// LockState is the security state of a DIMM.
type LockState int

const (
	LockStateUnknown LockState = iota
	LockStateDisabled
	LockStateUnlocked
	LockStateLocked
	LockStateFrozen
	LockStatePassphraseLimit
	LockStateNotSupported
)

var lockStateNames = map[LockState]string{
	LockStateUnknown:         "unknown",
	LockStateDisabled:        "disabled",
	LockStateUnlocked:        "unlocked",
	LockStateLocked:          "locked",
	LockStateFrozen:          "frozen",
	LockStatePassphraseLimit: "passphrase-limit",
	LockStateNotSupported:    "not-supported",
}

// EncryptionEnabled returns true if security is enabled on the DIMM.
func (s LockState) EncryptionEnabled() bool {
	switch s {
	case LockStateUnlocked, LockStateLocked, LockStateFrozen, LockStatePassphraseLimit:
		return true
	}
	return false
}

// IsLocked returns true if the DIMM capacity is inaccessible until unlocked.
func (s LockState) IsLocked() bool {
	return s == LockStateLocked || s == LockStatePassphraseLimit
}

func (s LockState) String() string { return enumString(lockStateNames, s, "LockState") }

func (s LockState) MarshalJSON() ([]byte, error) {
	return marshalEnum(lockStateNames, s, "lock state")
}

func (s *LockState) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(lockStateNames, data, s, "lock state")
}

// DeviceHealth is the health reported for a DIMM.
type DeviceHealth int

const (
	DeviceHealthUnknown     DeviceHealth = 0
	DeviceHealthNormal      DeviceHealth = 5
	DeviceHealthNonCritical DeviceHealth = 15
	DeviceHealthCritical    DeviceHealth = 25
	DeviceHealthFatal       DeviceHealth = 30
)

var deviceHealthNames = map[DeviceHealth]string{
	DeviceHealthUnknown:     "unknown",
	DeviceHealthNormal:      "normal",
	DeviceHealthNonCritical: "non-critical",
	DeviceHealthCritical:    "critical",
	DeviceHealthFatal:       "fatal",
}

func (h DeviceHealth) String() string { return enumString(deviceHealthNames, h, "DeviceHealth") }

func (h DeviceHealth) MarshalJSON() ([]byte, error) {
	return marshalEnum(deviceHealthNames, h, "device health")
}

func (h *DeviceHealth) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(deviceHealthNames, data, h, "device health")
}

// SecurityCapabilities are the security features a DIMM supports.
type SecurityCapabilities struct {
	PassphraseCapable     bool `json:"passphraseCapable,omitempty"`
	UnlockDeviceCapable   bool `json:"unlockDeviceCapable,omitempty"`
	EraseCryptoCapable    bool `json:"eraseCryptoCapable,omitempty"`
	EraseOverwriteCapable bool `json:"eraseOverwriteCapable,omitempty"`
}

// EraseCapable returns true if the DIMM supports any kind of erase.
func (c SecurityCapabilities) EraseCapable() bool {
	return c.EraseCryptoCapable || c.EraseOverwriteCapable
}

// DeviceCapabilities are the SKU-dependent modes of a DIMM.
type DeviceCapabilities struct {
	MemoryModeCapable    bool `json:"memoryModeCapable,omitempty"`
	AppDirectModeCapable bool `json:"appDirectModeCapable,omitempty"`
	StorageModeCapable   bool `json:"storageModeCapable,omitempty"`
}

// DeviceDiscovery describes one DIMM as reported by the driver.
type DeviceDiscovery struct {
	UID                string               `json:"uid"`
	Handle             DeviceHandle         `json:"handle"`
	SocketID           uint16               `json:"socketId"`
	MemoryControllerID uint16               `json:"memoryControllerId"`
	ChannelID          uint16               `json:"channelId"`
	ChannelPos         uint16               `json:"channelPos"`
	Capacity           uint64               `json:"capacity"`
	Manufacturer       [2]byte              `json:"manufacturer"`
	SerialNumber       [4]byte              `json:"serialNumber"`
	ModelNumber        string               `json:"modelNumber"`
	SKU                uint32               `json:"sku"`
	Manageability      Manageability        `json:"manageability"`
	LockState          LockState            `json:"lockState"`
	Health             DeviceHealth         `json:"health"`
	Security           SecurityCapabilities `json:"security"`
	Capabilities       DeviceCapabilities   `json:"capabilities"`
}

// IsManageable returns true if the DIMM can be managed.
func (d *DeviceDiscovery) IsManageable() bool {
	return d.Manageability == Manageable
}

// DeviceCapacities breaks down the raw capacity of a DIMM.
type DeviceCapacities struct {
	Handle               DeviceHandle `json:"handle"`
	Capacity             uint64       `json:"capacity"`
	MemoryCapacity       uint64       `json:"memoryCapacity"`
	AppDirectCapacity    uint64       `json:"appDirectCapacity"`
	StorageCapacity      uint64       `json:"storageCapacity"`
	UnconfiguredCapacity uint64       `json:"unconfiguredCapacity"`
	InaccessibleCapacity uint64       `json:"inaccessibleCapacity"`
	ReservedCapacity     uint64       `json:"reservedCapacity"`
}

// NamespaceType is the kind of a namespace.
type NamespaceType int

const (
	NamespaceTypeUnknown NamespaceType = iota
	NamespaceTypeStorage
	NamespaceTypeAppDirect
)

var namespaceTypeNames = map[NamespaceType]string{
	NamespaceTypeUnknown:   "unknown",
	NamespaceTypeStorage:   "storage",
	NamespaceTypeAppDirect: "app-direct",
}

func (t NamespaceType) String() string { return enumString(namespaceTypeNames, t, "NamespaceType") }

func (t NamespaceType) MarshalJSON() ([]byte, error) {
	return marshalEnum(namespaceTypeNames, t, "namespace type")
}

func (t *NamespaceType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(namespaceTypeNames, data, t, "namespace type")
}

// Namespace is a region of capacity carved from a pool. App direct namespaces
// belong to an interleave set, storage namespaces to a single DIMM.
type Namespace struct {
	UID             string        `json:"uid"`
	Type            NamespaceType `json:"type"`
	Capacity        uint64        `json:"capacity"`
	InterleaveSetID uint32        `json:"interleaveSetId,omitempty"`
	Handle          DeviceHandle  `json:"handle,omitempty"`
}
