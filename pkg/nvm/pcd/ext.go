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

package pcd

import (
	"strings"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/table"
)

// Extension table types used in platform config data.
const (
	PartitionSizeChangeType uint16 = 4
	InterleaveInfoType      uint16 = 5
)

// Extension table sizes.
const (
	PartitionSizeChangeSize = 16
	InterleaveInfoSize      = 24
	DimmInfoSize            = 48

	modelNumberLen = 20
)

// Extension is a decoded extension table of a config sub-table.
type Extension interface {
	// Type returns the extension table type.
	Type() uint16
	encode(w *table.Writer)
}

// Partition size change status codes, as reported in config output.
const (
	PartitionStatusUndefined uint32 = iota
	PartitionStatusSuccess
	_
	PartitionStatusDimmsNotFound
	PartitionStatusInterleaveInfoBad
	PartitionStatusSizeTooBig
	PartitionStatusFirmwareError
	PartitionStatusOutOfDecoders
	PartitionStatusBadAlignment
)

// PartitionSizeChange requests or reports the size of the persistent
// partition of a DIMM.
type PartitionSizeChange struct {
	// Status is only valid in config output. Bits 15:0 carry the status
	// code, bits 31:16 a firmware error code.
	Status uint32
	// PartitionSize is the persistent partition size in bytes.
	PartitionSize uint64
}

// Type implements Extension.
func (*PartitionSizeChange) Type() uint16 { return PartitionSizeChangeType }

// StatusCode returns the status code without the firmware error code.
func (p *PartitionSizeChange) StatusCode() uint32 { return p.Status & 0xffff }

func (p *PartitionSizeChange) encode(w *table.Writer) {
	w.U16(PartitionSizeChangeType)
	w.U16(PartitionSizeChangeSize)
	w.U32(p.Status)
	w.U64(p.PartitionSize)
}

// MemoryType is the kind of capacity an interleave set maps.
type MemoryType uint8

const (
	MemoryTypeUnknown MemoryType = iota
	MemoryTypeMemory
	MemoryTypeAppDirect
)

// Interleave set status codes, as reported in config output.
const (
	InterleaveStatusUnknown uint8 = iota
	InterleaveStatusSuccess
	InterleaveStatusNotProcessed
	InterleaveStatusDimmsNotFound
	InterleaveStatusInterleaveInfoBad
	InterleaveStatusOutOfDecoders
	InterleaveStatusOutOfAddressSpace
	InterleaveStatusUnavailableResources
	InterleaveStatusPartitioningFailed
	InterleaveStatusDimmMissing
	InterleaveStatusChannelMismatch
	InterleaveStatusBadAlignment
)

// DimmInfo identifies one DIMM of an interleave set and the part of its
// persistent partition that the set uses.
type DimmInfo struct {
	Manufacturer [2]byte
	SerialNumber [4]byte
	ModelNumber  string
	// Offset and Size are in bytes from the base of the partition.
	Offset uint64
	Size   uint64
}

// InterleaveInfo describes one interleave set.
type InterleaveInfo struct {
	Index      uint16
	MemoryType MemoryType
	// Format is the packed BIOS interleave format.
	Format   uint32
	Mirror   bool
	Status   uint8
	MemSpare uint8
	Dimms    []DimmInfo
}

// Type implements Extension.
func (*InterleaveInfo) Type() uint16 { return InterleaveInfoType }

// Length returns the encoded size of the table, trailing DIMMs included.
func (i *InterleaveInfo) Length() int {
	return InterleaveInfoSize + len(i.Dimms)*DimmInfoSize
}

func (i *InterleaveInfo) encode(w *table.Writer) {
	w.U16(InterleaveInfoType)
	w.U16(uint16(i.Length()))
	w.U16(i.Index)
	w.U8(uint8(len(i.Dimms)))
	w.U8(uint8(i.MemoryType))
	w.U32(i.Format)
	w.U8(boolByte(i.Mirror))
	w.U8(i.Status)
	w.U8(i.MemSpare)
	w.Zero(9)
	for _, d := range i.Dimms {
		w.Raw(d.Manufacturer[:])
		w.Raw(d.SerialNumber[:])
		w.String(d.ModelNumber, modelNumberLen)
		w.Zero(6)
		w.U64(d.Offset)
		w.U64(d.Size)
	}
}

// Matches returns true if the DIMM info refers to the given DIMM.
func (d *DimmInfo) Matches(dev *nvm.DeviceDiscovery) bool {
	model := dev.ModelNumber
	if len(model) > modelNumberLen {
		model = model[:modelNumberLen]
	}
	return d.Manufacturer == dev.Manufacturer &&
		d.SerialNumber == dev.SerialNumber &&
		d.ModelNumber == strings.TrimRight(model, "\x00")
}

// RawExtension is an extension table of a type this package does not
// decode. It is kept so that re-encoding preserves it.
type RawExtension struct {
	ExtType uint16
	// Body is the table without its 4-byte header.
	Body []byte
}

// Type implements Extension.
func (r *RawExtension) Type() uint16 { return r.ExtType }

func (r *RawExtension) encode(w *table.Writer) {
	w.U16(r.ExtType)
	w.U16(uint16(table.ExtHeaderSize + len(r.Body)))
	w.Raw(r.Body)
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

// decodeExtensions decodes every extension table of a sub-table.
func decodeExtensions(buf []byte, start int) ([]Extension, error) {
	var exts []Extension

	w := table.Extensions(buf, start, len(buf))
	for w.Next() {
		h := w.Header()
		ext, err := decodeExtension(h, w.Table())
		if err != nil {
			return nil, err
		}
		exts = append(exts, ext)
	}
	if err := w.Err(); err != nil {
		return nil, err
	}

	return exts, nil
}

func decodeExtension(h table.ExtHeader, buf []byte) (Extension, error) {
	r := table.NewReader(buf)
	r.Skip(table.ExtHeaderSize)

	switch h.Type {
	case PartitionSizeChangeType:
		if len(buf) < PartitionSizeChangeSize {
			return nil, pcdError("partition size change table at %d: length %d", h.Offset, h.Length)
		}
		return &PartitionSizeChange{
			Status:        r.U32(),
			PartitionSize: r.U64(),
		}, nil

	case InterleaveInfoType:
		if len(buf) < InterleaveInfoSize {
			return nil, pcdError("interleave info table at %d: length %d", h.Offset, h.Length)
		}
		i := &InterleaveInfo{
			Index: r.U16(),
		}
		count := int(r.U8())
		i.MemoryType = MemoryType(r.U8())
		i.Format = r.U32()
		i.Mirror = r.U8() != 0
		i.Status = r.U8()
		i.MemSpare = r.U8()
		r.Skip(9)

		if InterleaveInfoSize+count*DimmInfoSize > len(buf) {
			return nil, pcdError("interleave info table at %d: %d DIMMs overrun length %d",
				h.Offset, count, h.Length)
		}
		for n := 0; n < count; n++ {
			d := DimmInfo{}
			r.Bytes(d.Manufacturer[:], 2)
			r.Bytes(d.SerialNumber[:], 4)
			d.ModelNumber = r.String(modelNumberLen)
			r.Skip(6)
			d.Offset = r.U64()
			d.Size = r.U64()
			i.Dimms = append(i.Dimms, d)
		}
		if err := r.Err(); err != nil {
			return nil, err
		}
		return i, nil
	}

	return &RawExtension{
		ExtType: h.Type,
		Body:    append([]byte{}, buf[table.ExtHeaderSize:]...),
	}, nil
}
