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

package goal

import (
	"fmt"
	"sort"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

// VerifyInterleaveSetRules checks that the DIMMs of an app direct set are
// populated in a layout the memory controllers can interleave across.
func VerifyInterleaveSetRules(dimms []nvm.DeviceDiscovery) error {
	if len(dimms) == 0 {
		return fmt.Errorf("%w: empty interleave set", nvm.ErrUnknown)
	}

	for _, d := range dimms[1:] {
		if d.SocketID != dimms[0].SocketID {
			return fmt.Errorf("%w: interleave set spans sockets %d and %d",
				nvm.ErrConfigNotSupported, dimms[0].SocketID, d.SocketID)
		}
	}

	switch len(dimms) {
	case 1, 6:
	case 2:
		if acrossControllers(dimms) && !channelsMatchAcrossControllers(dimms) {
			return fmt.Errorf("%w: 2-way set across controllers on different channels",
				nvm.ErrConfigNotSupported)
		}
	case 3:
		if acrossControllers(dimms) {
			return fmt.Errorf("%w: 3-way set across controllers", nvm.ErrConfigNotSupported)
		}
	case 4:
		if !channelsMatchAcrossControllers(dimms) {
			return fmt.Errorf("%w: 4-way set without matching channels on both controllers",
				nvm.ErrConfigNotSupported)
		}
	default:
		return fmt.Errorf("%w: unsupported %d-way interleave set", nvm.ErrUnknown, len(dimms))
	}

	return nil
}

func acrossControllers(dimms []nvm.DeviceDiscovery) bool {
	for _, d := range dimms[1:] {
		if d.MemoryControllerID != dimms[0].MemoryControllerID {
			return true
		}
	}
	return false
}

// channelsMatchAcrossControllers returns true if every DIMM has a peer on
// the same channel of another memory controller.
func channelsMatchAcrossControllers(dimms []nvm.DeviceDiscovery) bool {
	for _, d := range dimms {
		found := false
		for _, o := range dimms {
			if d.ChannelID == o.ChannelID && d.MemoryControllerID != o.MemoryControllerID {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// OrderDimms sorts the DIMMs of an interleave set into the order revision 2
// and later platforms expect. Up to 4-way sets are ordered by channel, then
// by memory controller. 6-way sets alternate controllers by putting DIMMs
// with even channel+controller parity first. Older revisions leave the order
// as requested.
func OrderDimms(dimms []nvm.DeviceDiscovery, pcatRevision uint8) {
	if pcatRevision < 2 {
		return
	}

	switch n := len(dimms); {
	case n <= 4:
		sort.SliceStable(dimms, func(i, j int) bool {
			a, b := &dimms[i], &dimms[j]
			if a.ChannelID != b.ChannelID {
				return a.ChannelID < b.ChannelID
			}
			return a.MemoryControllerID < b.MemoryControllerID
		})
	case n == 6:
		parity := func(d *nvm.DeviceDiscovery) uint16 {
			return (d.ChannelID + d.MemoryControllerID) % 2
		}
		sort.SliceStable(dimms, func(i, j int) bool {
			a, b := &dimms[i], &dimms[j]
			if pa, pb := parity(a), parity(b); pa != pb {
				return pa < pb
			}
			return a.ChannelID < b.ChannelID
		})
	}
}
