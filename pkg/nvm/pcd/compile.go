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
	"fmt"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/goal"
	"github.com/intel/nvm-capacity/pkg/nvm/table"
)

// Compile turns a validated config goal for device into a config input
// request with the given sequence number. The sequence number must be one
// past the last one the BIOS responded to, otherwise the BIOS ignores the
// request. devices resolves the DIMMs of each app direct extent.
func Compile(g *nvm.ConfigGoal, device *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery, seq uint32) (*ConfigInput, error) {
	if len(g.AppDirect) > nvm.MaxAppDirectExtents {
		return nil, fmt.Errorf("%w: %d app direct extents", nvm.ErrBadDeviceConfig, len(g.AppDirect))
	}

	usable := nvm.UsableCapacity(device.Capacity)
	remaining := device.Capacity

	psc := &PartitionSizeChange{}
	switch g.MemorySize {
	case nvm.SizeAllRemaining:
		psc.PartitionSize = 0
		remaining = 0
	case 0:
		psc.PartitionSize = device.Capacity
	default:
		if g.MemorySize > nvm.MaxSizeGiB || nvm.GiB(g.MemorySize) > usable {
			return nil, fmt.Errorf("%w: %d GiB of memory exceeds %d bytes of capacity",
				nvm.ErrBadSize, g.MemorySize, usable)
		}
		psc.PartitionSize = usable - nvm.GiB(g.MemorySize)
		remaining -= nvm.GiB(g.MemorySize) + nvm.ReservedCapacity(device.Capacity)
	}

	input := NewConfigInput(seq, psc)

	offset := uint64(0)
	for i := range g.AppDirect {
		ext := &g.AppDirect[i]

		size := goal.SizeFromCapacity(ext.Size, remaining, ext.Mirrored)
		physical := size
		if ext.Mirrored {
			physical *= 2
		}
		if size > nvm.MaxSizeGiB/2 || nvm.GiB(physical) > remaining {
			return nil, fmt.Errorf("%w: app direct %d: %d GiB exceeds the remaining %d bytes",
				nvm.ErrBadSize, i+1, size, remaining)
		}
		remaining -= nvm.GiB(physical)

		info, err := compileExtent(ext, device, devices, offset, size)
		if err != nil {
			return nil, fmt.Errorf("app direct %d: %w", i+1, err)
		}
		input.Extensions = append(input.Extensions, info)

		offset += size
	}

	log.Debug("DIMM %s: compiled request %d, partition %d bytes, %d app direct sets",
		device.UID, seq, psc.PartitionSize, len(g.AppDirect))

	return input, nil
}

func compileExtent(ext *nvm.AppDirectExtent, device *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery,
	offset, size uint64) (*InterleaveInfo, error) {
	uids := ext.Dimms
	if len(uids) == 0 {
		uids = []string{device.UID}
	}
	if len(uids) != ext.Interleave.Ways.Count() {
		return nil, fmt.Errorf("%w: %d DIMMs for a %s set",
			nvm.ErrBadDeviceConfig, len(uids), ext.Interleave.Ways)
	}

	info := &InterleaveInfo{
		Index:      ext.SetID,
		MemoryType: MemoryTypeAppDirect,
		Format:     ext.Interleave.Encode(),
		Mirror:     ext.Mirrored,
	}

	for _, uid := range uids {
		dev := findDevice(devices, uid)
		if dev == nil && uid == device.UID {
			dev = device
		}
		if dev == nil || !dev.IsManageable() {
			return nil, fmt.Errorf("%w: DIMM %s", nvm.ErrBadDevice, uid)
		}
		info.Dimms = append(info.Dimms, DimmInfo{
			Manufacturer: dev.Manufacturer,
			SerialNumber: dev.SerialNumber,
			ModelNumber:  dev.ModelNumber,
			Offset:       nvm.GiB(offset),
			Size:         nvm.GiB(size),
		})
	}

	return info, nil
}

func findDevice(devices []nvm.DeviceDiscovery, uid string) *nvm.DeviceDiscovery {
	for i := range devices {
		if devices[i].UID == uid {
			return &devices[i]
		}
	}
	return nil
}

// Interpret recovers the config goal of device from a raw config input or
// current config sub-table. The DIMMs of each interleave set are resolved
// against devices by manufacturer, serial and model number. Anything that
// does not describe a valid goal for this host is nvm.ErrBadDeviceConfig.
func Interpret(device *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery, buf []byte) (*nvm.ConfigGoal, error) {
	h, err := table.DecodeHeader(buf)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", nvm.ErrBadDeviceConfig, err)
	}

	g := &nvm.ConfigGoal{}
	var exts []Extension

	switch h.Signature {
	case InputSignature:
		in, err := ParseConfigInput(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", nvm.ErrBadDeviceConfig, err)
		}
		exts = in.Extensions
	case CurrentSignature:
		cur, err := ParseCurrentConfig(buf)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", nvm.ErrBadDeviceConfig, err)
		}
		g.MemorySize = cur.MappedMemory / nvm.BytesPerGiB
		exts = cur.Extensions
	default:
		return nil, fmt.Errorf("%w: unexpected table %q", nvm.ErrBadDeviceConfig, h.Signature)
	}

	for _, e := range exts {
		switch e := e.(type) {
		case *PartitionSizeChange:
			g.MemorySize = memoryFromPartition(device.Capacity, e.PartitionSize)

		case *InterleaveInfo:
			switch e.MemoryType {
			case MemoryTypeMemory:
				continue
			case MemoryTypeAppDirect:
			default:
				return nil, fmt.Errorf("%w: interleave set %d of memory type %d",
					nvm.ErrBadDeviceConfig, e.Index, e.MemoryType)
			}
			if len(g.AppDirect) >= nvm.MaxAppDirectExtents {
				return nil, fmt.Errorf("%w: more than %d app direct sets",
					nvm.ErrBadDeviceConfig, nvm.MaxAppDirectExtents)
			}
			ext, err := interpretExtent(e, device, devices)
			if err != nil {
				return nil, err
			}
			g.AppDirect = append(g.AppDirect, *ext)
		}
	}

	return g, nil
}

func memoryFromPartition(capacity, partition uint64) uint64 {
	usable := nvm.UsableCapacity(capacity) / nvm.BytesPerGiB
	part := partition / nvm.BytesPerGiB
	if part >= usable {
		return 0
	}
	return usable - part
}

func interpretExtent(info *InterleaveInfo, device *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery) (*nvm.AppDirectExtent, error) {
	format, err := nvm.DecodeInterleaveFormat(info.Format)
	if err != nil {
		return nil, fmt.Errorf("%w: interleave set %d: %w", nvm.ErrBadDeviceConfig, info.Index, err)
	}

	ext := &nvm.AppDirectExtent{
		SetID:      info.Index,
		Mirrored:   info.Mirror,
		Interleave: format,
	}

	own := false
	for i := range info.Dimms {
		d := &info.Dimms[i]
		dev := matchDevice(devices, d)
		if dev == nil {
			return nil, fmt.Errorf("%w: interleave set %d: unknown DIMM %x-%x",
				nvm.ErrBadDeviceConfig, info.Index, d.Manufacturer, d.SerialNumber)
		}
		ext.Dimms = append(ext.Dimms, dev.UID)
		if dev.UID == device.UID {
			ext.Size = d.Size / nvm.BytesPerGiB
			own = true
		}
	}
	if !own {
		return nil, fmt.Errorf("%w: interleave set %d does not include DIMM %s",
			nvm.ErrBadDeviceConfig, info.Index, device.UID)
	}

	return ext, nil
}

func matchDevice(devices []nvm.DeviceDiscovery, d *DimmInfo) *nvm.DeviceDiscovery {
	for i := range devices {
		if d.Matches(&devices[i]) {
			return &devices[i]
		}
	}
	return nil
}
