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

import "github.com/google/uuid"

// MaxPools is the largest number of pools a consistent topology can produce.
const MaxPools = 9

// PoolNamespace is the UUID namespace used to derive pool UIDs.
var PoolNamespace = uuid.MustParse("6d6f0b36-7e0f-4c4e-9c89-3f9c8fb0f7a1")

// PoolType is the kind of capacity a pool aggregates.
type PoolType int

const (
	PoolTypeVolatile PoolType = iota
	PoolTypePersistent
	PoolTypePersistentMirror
)

var poolTypeNames = map[PoolType]string{
	PoolTypeVolatile:         "volatile",
	PoolTypePersistent:       "persistent",
	PoolTypePersistentMirror: "mirrored",
}

func (t PoolType) String() string { return enumString(poolTypeNames, t, "PoolType") }

func (t PoolType) MarshalJSON() ([]byte, error) {
	return marshalEnum(poolTypeNames, t, "pool type")
}

func (t *PoolType) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(poolTypeNames, data, t, "pool type")
}

// PoolHealth is ordered so that a larger value is a worse state.
type PoolHealth int

const (
	PoolHealthUnset PoolHealth = iota
	PoolHealthNormal
	PoolHealthWarning
	PoolHealthDegraded
	PoolHealthLocked
	PoolHealthUnknown
	PoolHealthFailed
)

var poolHealthNames = map[PoolHealth]string{
	PoolHealthUnset:    "unset",
	PoolHealthNormal:   "normal",
	PoolHealthWarning:  "warning",
	PoolHealthDegraded: "degraded",
	PoolHealthLocked:   "locked",
	PoolHealthUnknown:  "unknown",
	PoolHealthFailed:   "failed",
}

func (h PoolHealth) String() string { return enumString(poolHealthNames, h, "PoolHealth") }

func (h PoolHealth) MarshalJSON() ([]byte, error) {
	return marshalEnum(poolHealthNames, h, "pool health")
}

func (h *PoolHealth) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(poolHealthNames, data, h, "pool health")
}

// Worse returns the worse of the two states.
func (h PoolHealth) Worse(o PoolHealth) PoolHealth {
	if o > h {
		return o
	}
	return h
}

// InterleaveSetHealth is the rolled up health of the DIMMs of a set.
type InterleaveSetHealth int

const (
	InterleaveSetHealthNormal InterleaveSetHealth = iota
	InterleaveSetHealthDegraded
	InterleaveSetHealthUnknown
	InterleaveSetHealthFailed
)

var interleaveSetHealthNames = map[InterleaveSetHealth]string{
	InterleaveSetHealthNormal:   "normal",
	InterleaveSetHealthDegraded: "degraded",
	InterleaveSetHealthUnknown:  "unknown",
	InterleaveSetHealthFailed:   "failed",
}

func (h InterleaveSetHealth) String() string {
	return enumString(interleaveSetHealthNames, h, "InterleaveSetHealth")
}

func (h InterleaveSetHealth) MarshalJSON() ([]byte, error) {
	return marshalEnum(interleaveSetHealthNames, h, "interleave set health")
}

func (h *InterleaveSetHealth) UnmarshalJSON(data []byte) error {
	return unmarshalEnum(interleaveSetHealthNames, data, h, "interleave set health")
}

// InterleaveDimm is the contribution of one DIMM to an interleave set.
type InterleaveDimm struct {
	UID    string       `json:"uid"`
	Handle DeviceHandle `json:"handle"`
	// Offset and Size are in bytes, relative to the persistent partition.
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// InterleaveSet is a group of DIMMs striped into one address range.
type InterleaveSet struct {
	DriverID uint32 `json:"driverId"`
	SetIndex uint32 `json:"setIndex"`
	// Size and AvailableSize are presented bytes.
	Size          uint64              `json:"size"`
	AvailableSize uint64              `json:"availableSize"`
	Mirrored      bool                `json:"mirrored,omitempty"`
	SocketID      uint16              `json:"socketId"`
	Dimms         []InterleaveDimm    `json:"dimms"`
	Format        InterleaveFormat    `json:"format"`
	Health        InterleaveSetHealth `json:"health"`
}

// PoolDimm is the capacity a DIMM contributes to a pool.
type PoolDimm struct {
	UID          string       `json:"uid"`
	Handle       DeviceHandle `json:"handle"`
	Capacity     uint64       `json:"capacity"`
	FreeCapacity uint64       `json:"freeCapacity"`
	// StorageCapacity is storage-only capacity outside any interleave set.
	StorageCapacity uint64 `json:"storageCapacity,omitempty"`
}

// Pool aggregates capacity of one type on one socket.
type Pool struct {
	UID               string          `json:"uid"`
	Type              PoolType        `json:"type"`
	SocketID          int             `json:"socketId"`
	Capacity          uint64          `json:"capacity"`
	FreeCapacity      uint64          `json:"freeCapacity"`
	Health            PoolHealth      `json:"health"`
	EncryptionCapable bool            `json:"encryptionCapable"`
	EncryptionEnabled bool            `json:"encryptionEnabled"`
	EraseCapable      bool            `json:"eraseCapable"`
	Dimms             []PoolDimm      `json:"dimms"`
	Sets              []InterleaveSet `json:"sets,omitempty"`
}

// Dimm returns the pool's entry for the given handle, if any.
func (p *Pool) Dimm(h DeviceHandle) (*PoolDimm, bool) {
	for i := range p.Dimms {
		if p.Dimms[i].Handle == h {
			return &p.Dimms[i], true
		}
	}
	return nil, false
}
