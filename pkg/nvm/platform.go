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

// VolatileMode is the volatile memory mode the BIOS currently runs in.
type VolatileMode int

const (
	VolatileMode1LM VolatileMode = iota
	VolatileModeMemory
	VolatileModeAuto
	VolatileModeUnknown
)

var volatileModeNames = map[VolatileMode]string{
	VolatileMode1LM:     "1LM",
	VolatileModeMemory:  "memory",
	VolatileModeAuto:    "auto",
	VolatileModeUnknown: "unknown",
}

func (m VolatileMode) String() string { return enumString(volatileModeNames, m, "VolatileMode") }

func (m VolatileMode) MarshalJSON() ([]byte, error) {
	return marshalEnum(volatileModeNames, m, "volatile mode")
}

func (m *VolatileMode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(volatileModeNames, data, m, "volatile mode")
}

// AppDirectMode is the current app direct mode of the BIOS.
type AppDirectMode int

const (
	AppDirectModeDisabled AppDirectMode = iota
	AppDirectModeEnabled
	AppDirectModeUnknown
)

var appDirectModeNames = map[AppDirectMode]string{
	AppDirectModeDisabled: "disabled",
	AppDirectModeEnabled:  "enabled",
	AppDirectModeUnknown:  "unknown",
}

func (m AppDirectMode) String() string { return enumString(appDirectModeNames, m, "AppDirectMode") }

func (m AppDirectMode) MarshalJSON() ([]byte, error) {
	return marshalEnum(appDirectModeNames, m, "app direct mode")
}

func (m *AppDirectMode) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(appDirectModeNames, data, m, "app direct mode")
}

// MemoryCapability describes BIOS support for one memory mode.
type MemoryCapability struct {
	Supported bool `json:"supported"`
	// AlignmentExponent is log2 of the required interleave alignment in bytes.
	AlignmentExponent uint8              `json:"alignmentExponent"`
	Formats           []InterleaveFormat `json:"formats,omitempty"`
}

// Alignment returns the required alignment in bytes, or 0 if the exponent
// does not fit in 64 bits.
func (c MemoryCapability) Alignment() uint64 {
	if c.AlignmentExponent >= 64 {
		return 0
	}
	return 1 << c.AlignmentExponent
}

// PlatformCapabilities is the decoded BIOS Platform Capabilities Table.
type PlatformCapabilities struct {
	Revision             uint8            `json:"revision"`
	BIOSConfigSupport    bool             `json:"biosConfigSupport"`
	BIOSRuntimeSupport   bool             `json:"biosRuntimeSupport"`
	CurrentVolatileMode  VolatileMode     `json:"currentVolatileMode"`
	CurrentAppDirectMode AppDirectMode    `json:"currentAppDirectMode"`
	MirrorSupported      bool             `json:"mirrorSupported"`
	SpareSupported       bool             `json:"spareSupported"`
	MigrationSupported   bool             `json:"migrationSupported"`
	StorageModeSupported bool             `json:"storageModeSupported"`
	OneLM                MemoryCapability `json:"oneLM"`
	MemoryMode           MemoryCapability `json:"memoryMode"`
	AppDirect            MemoryCapability `json:"appDirect"`
}
