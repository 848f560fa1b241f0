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

package pool

import (
	"fmt"
	"sort"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
)

type setKey struct {
	socket uint16
	index  uint16
}

// SetsFromCurrentConfig derives the app direct interleave sets of the host
// from the current config of every DIMM. A set spans the DIMMs on a socket
// whose current configs carry the same set index. Driver IDs are assigned
// in socket and set index order, starting from 1.
func SetsFromCurrentConfig(devices []nvm.DeviceDiscovery, pcds map[nvm.DeviceHandle]*pcd.PlatformConfigData) ([]nvm.InterleaveSet, error) {
	sets := make(map[setKey]*nvm.InterleaveSet)

	for i := range devices {
		d := &devices[i]
		p, ok := pcds[d.Handle]
		if !ok || p == nil || p.Current == nil {
			continue
		}
		broken := pcd.ConfigStatusFrom(p.Current) == nvm.ConfigStatusErrBrokenInterleave

		for _, info := range p.Current.Interleaves() {
			if info.MemoryType != pcd.MemoryTypeAppDirect {
				continue
			}
			own := ownDimmInfo(info, d)
			if own == nil {
				log.Warn("DIMM %s: interleave set %d does not list the DIMM itself", d.UID, info.Index)
				continue
			}

			key := setKey{socket: d.SocketID, index: info.Index}
			set, ok := sets[key]
			if !ok {
				format, err := nvm.DecodeInterleaveFormat(info.Format)
				if err != nil {
					return nil, fmt.Errorf("DIMM %s: interleave set %d: %w: %w",
						d.UID, info.Index, nvm.ErrCorrupt, err)
				}
				set = &nvm.InterleaveSet{
					SetIndex: uint32(info.Index),
					SocketID: d.SocketID,
					Mirrored: info.Mirror,
					Format:   format,
					Health:   nvm.InterleaveSetHealthNormal,
				}
				sets[key] = set
			}

			set.Size += own.Size
			set.Dimms = append(set.Dimms, nvm.InterleaveDimm{
				UID:    d.UID,
				Handle: d.Handle,
				Offset: own.Offset,
				Size:   own.Size,
			})
			set.Health = worseSetHealth(set.Health, dimmSetHealth(d))
			if broken {
				set.Health = worseSetHealth(set.Health, nvm.InterleaveSetHealthFailed)
			}
		}
	}

	keys := make([]setKey, 0, len(sets))
	for k := range sets {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].socket != keys[j].socket {
			return keys[i].socket < keys[j].socket
		}
		return keys[i].index < keys[j].index
	})

	result := make([]nvm.InterleaveSet, 0, len(keys))
	for i, k := range keys {
		set := sets[k]
		set.DriverID = uint32(i + 1)
		if set.Mirrored {
			set.Size /= 2
		}
		set.AvailableSize = set.Size
		result = append(result, *set)
	}

	return result, nil
}

func ownDimmInfo(info *pcd.InterleaveInfo, d *nvm.DeviceDiscovery) *pcd.DimmInfo {
	for i := range info.Dimms {
		if info.Dimms[i].Matches(d) {
			return &info.Dimms[i]
		}
	}
	return nil
}

func dimmSetHealth(d *nvm.DeviceDiscovery) nvm.InterleaveSetHealth {
	switch d.Health {
	case nvm.DeviceHealthNormal:
		return nvm.InterleaveSetHealthNormal
	case nvm.DeviceHealthNonCritical, nvm.DeviceHealthCritical:
		return nvm.InterleaveSetHealthDegraded
	case nvm.DeviceHealthFatal:
		return nvm.InterleaveSetHealthFailed
	}
	return nvm.InterleaveSetHealthUnknown
}

func worseSetHealth(a, b nvm.InterleaveSetHealth) nvm.InterleaveSetHealth {
	if b > a {
		return b
	}
	return a
}
