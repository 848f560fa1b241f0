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

// MaxAppDirectExtents is the number of app direct extents a goal may carry.
const MaxAppDirectExtents = 2

// ConfigGoalStatus is the state of a config goal as reported by the BIOS.
type ConfigGoalStatus int

const (
	ConfigGoalStatusUnknown ConfigGoalStatus = iota
	ConfigGoalStatusNew
	ConfigGoalStatusSuccess
	ConfigGoalStatusErrBadRequest
	ConfigGoalStatusErrInsufficientResources
	ConfigGoalStatusErrFirmware
	ConfigGoalStatusErrUnknown
)

var configGoalStatusNames = map[ConfigGoalStatus]string{
	ConfigGoalStatusUnknown:                  "unknown",
	ConfigGoalStatusNew:                      "new",
	ConfigGoalStatusSuccess:                  "success",
	ConfigGoalStatusErrBadRequest:            "bad-request",
	ConfigGoalStatusErrInsufficientResources: "insufficient-resources",
	ConfigGoalStatusErrFirmware:              "firmware-error",
	ConfigGoalStatusErrUnknown:               "unknown-error",
}

func (s ConfigGoalStatus) String() string {
	return enumString(configGoalStatusNames, s, "ConfigGoalStatus")
}

func (s ConfigGoalStatus) MarshalJSON() ([]byte, error) {
	return marshalEnum(configGoalStatusNames, s, "config goal status")
}

func (s *ConfigGoalStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(configGoalStatusNames, data, s, "config goal status")
}

// ConfigStatus is the state of the configuration currently applied to a DIMM.
type ConfigStatus int

const (
	ConfigStatusNotConfigured ConfigStatus = iota
	ConfigStatusValid
	ConfigStatusErrCorrupt
	ConfigStatusErrBrokenInterleave
	ConfigStatusErrReverted
	ConfigStatusErrNotSupported
)

var configStatusNames = map[ConfigStatus]string{
	ConfigStatusNotConfigured:       "not-configured",
	ConfigStatusValid:               "valid",
	ConfigStatusErrCorrupt:          "corrupt",
	ConfigStatusErrBrokenInterleave: "broken-interleave",
	ConfigStatusErrReverted:         "reverted",
	ConfigStatusErrNotSupported:     "not-supported",
}

func (s ConfigStatus) String() string { return enumString(configStatusNames, s, "ConfigStatus") }

func (s ConfigStatus) MarshalJSON() ([]byte, error) {
	return marshalEnum(configStatusNames, s, "config status")
}

func (s *ConfigStatus) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(configStatusNames, data, s, "config status")
}

// AppDirectExtent is one app direct interleave set requested on a DIMM.
type AppDirectExtent struct {
	// Size is the presented size in GiB, or SizeAllRemaining.
	Size       uint64           `json:"size"`
	SetID      uint16           `json:"setId"`
	Mirrored   bool             `json:"mirrored,omitempty"`
	Interleave InterleaveFormat `json:"interleave"`
	// Dimms lists the UIDs of every DIMM in the set, this one included.
	Dimms []string `json:"dimms,omitempty"`
}

// ConfigGoal is a capacity provisioning request for a single DIMM.
type ConfigGoal struct {
	// MemorySize is the memory mode size in GiB, 0, or SizeAllRemaining.
	MemorySize uint64            `json:"memorySize"`
	AppDirect  []AppDirectExtent `json:"appDirect,omitempty"`
	Status     ConfigGoalStatus  `json:"status"`
}

// MirroredCount returns the number of mirrored app direct extents.
func (g *ConfigGoal) MirroredCount() int {
	n := 0
	for _, ad := range g.AppDirect {
		if ad.Mirrored {
			n++
		}
	}
	return n
}
