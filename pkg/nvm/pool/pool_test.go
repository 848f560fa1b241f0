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

package pool_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/pcd"
	. "github.com/intel/nvm-capacity/pkg/nvm/pool"
	"github.com/intel/nvm-capacity/pkg/nvm/table"

	"github.com/stretchr/testify/require"
)

var (
	oneWay = nvm.InterleaveFormat{Ways: nvm.Ways1, Channel: nvm.Size4KB, IMC: nvm.Size4KB}
	twoWay = nvm.InterleaveFormat{Ways: nvm.Ways2, Channel: nvm.Size4KB, IMC: nvm.Size4KB}
)

func dimm(socket, n uint16, capacity uint64) nvm.DeviceDiscovery {
	return nvm.DeviceDiscovery{
		UID:           fmt.Sprintf("8089-a2-0000-%04x%04x", socket, n),
		Handle:        nvm.NewDeviceHandle(socket, n/6, n%6, 0),
		SocketID:      socket,
		Capacity:      capacity,
		Manufacturer:  [2]byte{0x80, 0x89},
		SerialNumber:  [4]byte{0, byte(socket), 0, byte(n)},
		ModelNumber:   "NMA1XXD256GPS",
		Manageability: nvm.Manageable,
		LockState:     nvm.LockStateDisabled,
		Health:        nvm.DeviceHealthNormal,
		Security: nvm.SecurityCapabilities{
			PassphraseCapable:  true,
			EraseCryptoCapable: true,
		},
	}
}

func set(driverID uint32, socket uint16, size uint64, mirrored bool, dimms ...nvm.DeviceDiscovery) nvm.InterleaveSet {
	s := nvm.InterleaveSet{
		DriverID:      driverID,
		SetIndex:      driverID,
		Size:          size,
		AvailableSize: size,
		Mirrored:      mirrored,
		SocketID:      socket,
		Format:        oneWay,
	}
	per := size / uint64(len(dimms))
	if mirrored {
		per *= 2
	}
	for _, d := range dimms {
		s.Dimms = append(s.Dimms, nvm.InterleaveDimm{UID: d.UID, Handle: d.Handle, Size: per})
	}
	return s
}

func features() nvm.NvmFeatureSet {
	return nvm.NvmFeatureSet{
		GetPools:      true,
		MemoryMode:    true,
		AppDirectMode: true,
		StorageMode:   true,
	}
}

func TestMirroredScenario(t *testing.T) {
	d0, d1 := dimm(0, 0, nvm.GiB(256)), dimm(0, 1, nvm.GiB(256))
	devices := []nvm.DeviceDiscovery{d0, d1}

	goal := &nvm.ConfigGoal{
		AppDirect: []nvm.AppDirectExtent{
			{Size: 100, SetID: 1, Mirrored: true, Interleave: twoWay, Dimms: []string{d0.UID, d1.UID}},
		},
	}

	// What the BIOS reports back after applying the goal on both DIMMs.
	pcds := map[nvm.DeviceHandle]*pcd.PlatformConfigData{}
	for i := range devices {
		input, err := pcd.Compile(goal, &devices[i], devices, 1)
		require.NoError(t, err)
		pcds[devices[i].Handle] = pcd.NewPlatformConfigData(&pcd.CurrentConfig{
			Header:          table.NewHeader(pcd.CurrentSignature),
			Status:          pcd.CurrentStatusSuccess,
			MappedAppDirect: nvm.GiB(200),
			Extensions:      input.Extensions[1:],
		}, nil, nil)
	}

	sets, err := SetsFromCurrentConfig(devices, pcds)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	require.Equal(t, nvm.GiB(100), sets[0].Size)
	require.True(t, sets[0].Mirrored)
	require.Equal(t, twoWay, sets[0].Format)
	require.Len(t, sets[0].Dimms, 2)

	capacities := []nvm.DeviceCapacities{
		{Handle: d0.Handle, Capacity: nvm.GiB(256), AppDirectCapacity: nvm.GiB(200), UnconfiguredCapacity: nvm.GiB(56)},
		{Handle: d1.Handle, Capacity: nvm.GiB(256), AppDirectCapacity: nvm.GiB(200), UnconfiguredCapacity: nvm.GiB(56)},
	}

	a := &Assembler{Host: "node-1"}
	pools, err := a.Assemble(features(), devices, capacities, sets, nil)
	require.NoError(t, err)
	require.Len(t, pools, 1)

	p := pools[0]
	require.Equal(t, nvm.PoolTypePersistentMirror, p.Type)
	require.Equal(t, 0, p.SocketID)
	require.Equal(t, nvm.GiB(100), p.Capacity)
	require.Equal(t, nvm.GiB(100), p.FreeCapacity)
	require.Equal(t, nvm.PoolHealthNormal, p.Health)
	require.Len(t, p.Dimms, 2)
	require.Equal(t, nvm.GiB(100), p.Dimms[0].Capacity)
	require.Equal(t, uuid.NewSHA1(nvm.PoolNamespace, []byte("node-1mirrored0")).String(), p.UID)
}

func TestCapacityConservation(t *testing.T) {
	d0, d1 := dimm(0, 0, nvm.GiB(256)), dimm(0, 1, nvm.GiB(256))
	d2 := dimm(1, 0, nvm.GiB(256))
	d3 := dimm(1, 1, nvm.GiB(256))
	d3.Manageability = nvm.Unmanageable
	devices := []nvm.DeviceDiscovery{d0, d1, d2, d3}

	capacities := []nvm.DeviceCapacities{
		{Handle: d0.Handle, MemoryCapacity: nvm.GiB(64), AppDirectCapacity: nvm.GiB(128), StorageCapacity: nvm.GiB(64)},
		{Handle: d1.Handle, MemoryCapacity: nvm.GiB(64), AppDirectCapacity: nvm.GiB(128)},
		{Handle: d2.Handle, AppDirectCapacity: nvm.GiB(200), StorageCapacity: nvm.GiB(56)},
		{Handle: d3.Handle, MemoryCapacity: nvm.GiB(256)},
	}
	sets := []nvm.InterleaveSet{
		set(1, 0, nvm.GiB(256), false, d0, d1),
		set(2, 1, nvm.GiB(200), false, d2),
	}
	namespaces := []nvm.Namespace{
		{UID: "ns0", Type: nvm.NamespaceTypeAppDirect, Capacity: nvm.GiB(50), InterleaveSetID: 1},
		{UID: "ns1", Type: nvm.NamespaceTypeStorage, Capacity: nvm.GiB(10), Handle: d0.Handle},
	}

	a := &Assembler{Host: "node-1"}
	pools, err := a.Assemble(features(), devices, capacities, sets, namespaces)
	require.NoError(t, err)
	require.Len(t, pools, 3)

	total := uint64(0)
	for _, p := range pools {
		total += p.Capacity
	}
	expected := uint64(0)
	for _, c := range capacities {
		if c.Handle != d3.Handle {
			expected += c.MemoryCapacity + c.AppDirectCapacity + c.StorageCapacity
		}
	}
	require.Equal(t, expected, total)

	volatile := pools[0]
	require.Equal(t, nvm.PoolTypeVolatile, volatile.Type)
	require.Equal(t, -1, volatile.SocketID)
	require.Equal(t, nvm.GiB(128), volatile.Capacity)
	require.Equal(t, uuid.NewSHA1(nvm.PoolNamespace, []byte("node-1volatile")).String(), volatile.UID)

	s0 := pools[1]
	require.Equal(t, nvm.PoolTypePersistent, s0.Type)
	require.Equal(t, 0, s0.SocketID)
	require.Equal(t, nvm.GiB(256+64), s0.Capacity)
	require.Equal(t, nvm.GiB(206+54), s0.FreeCapacity)
	require.Equal(t, nvm.GiB(206), s0.Sets[0].AvailableSize)

	pd0, ok := s0.Dimm(d0.Handle)
	require.True(t, ok)
	require.Equal(t, nvm.GiB(128+64), pd0.Capacity)
	require.Equal(t, nvm.GiB(103+54), pd0.FreeCapacity)
	require.Equal(t, nvm.GiB(64), pd0.StorageCapacity)
	pd1, ok := s0.Dimm(d1.Handle)
	require.True(t, ok)
	require.Equal(t, nvm.GiB(103), pd1.FreeCapacity)

	s1 := pools[2]
	require.Equal(t, 1, s1.SocketID)
	require.Equal(t, nvm.GiB(256), s1.Capacity)
	_, ok = s1.Dimm(d3.Handle)
	require.False(t, ok)

	require.NotEqual(t, s0.UID, s1.UID)
}

func TestAssembleFeatures(t *testing.T) {
	d0 := dimm(0, 0, nvm.GiB(256))
	devices := []nvm.DeviceDiscovery{d0}
	capacities := []nvm.DeviceCapacities{
		{Handle: d0.Handle, AppDirectCapacity: nvm.GiB(128), StorageCapacity: nvm.GiB(128)},
	}
	sets := []nvm.InterleaveSet{set(1, 0, nvm.GiB(128), false, d0)}

	f := features()
	f.AppDirectMode = false
	pools, err := (&Assembler{}).Assemble(f, devices, capacities, sets, nil)
	require.NoError(t, err)
	require.Len(t, pools, 1)
	require.Equal(t, nvm.GiB(128), pools[0].Capacity)
	require.Empty(t, pools[0].Sets)

	f.StorageMode = false
	pools, err = (&Assembler{}).Assemble(f, devices, capacities, sets, nil)
	require.NoError(t, err)
	require.Empty(t, pools)
}

func TestPoolHealth(t *testing.T) {
	type testCase struct {
		name     string
		mirrored bool
		modify   func(d *nvm.DeviceDiscovery)
		health   nvm.PoolHealth
		free     uint64
	}

	for _, tc := range []*testCase{
		{
			name:   "normal",
			health: nvm.PoolHealthNormal,
			free:   nvm.GiB(100),
		},
		{
			name:   "non-critical",
			modify: func(d *nvm.DeviceDiscovery) { d.Health = nvm.DeviceHealthNonCritical },
			health: nvm.PoolHealthWarning,
			free:   nvm.GiB(100),
		},
		{
			name:   "critical",
			modify: func(d *nvm.DeviceDiscovery) { d.Health = nvm.DeviceHealthCritical },
			health: nvm.PoolHealthWarning,
			free:   nvm.GiB(100),
		},
		{
			name:   "fatal",
			modify: func(d *nvm.DeviceDiscovery) { d.Health = nvm.DeviceHealthFatal },
			health: nvm.PoolHealthFailed,
			free:   nvm.GiB(100),
		},
		{
			name:     "fatal but mirrored",
			mirrored: true,
			modify:   func(d *nvm.DeviceDiscovery) { d.Health = nvm.DeviceHealthFatal },
			health:   nvm.PoolHealthDegraded,
			free:     nvm.GiB(100),
		},
		{
			name:   "unknown",
			modify: func(d *nvm.DeviceDiscovery) { d.Health = nvm.DeviceHealthUnknown },
			health: nvm.PoolHealthUnknown,
			free:   nvm.GiB(100),
		},
		{
			name:   "locked",
			modify: func(d *nvm.DeviceDiscovery) { d.LockState = nvm.LockStateLocked },
			health: nvm.PoolHealthLocked,
			free:   0,
		},
		{
			name: "unknown and locked",
			modify: func(d *nvm.DeviceDiscovery) {
				d.LockState = nvm.LockStateLocked
				d.Health = nvm.DeviceHealthUnknown
			},
			health: nvm.PoolHealthUnknown,
			free:   0,
		},
		{
			name: "failed and locked",
			modify: func(d *nvm.DeviceDiscovery) {
				d.LockState = nvm.LockStateLocked
				d.Health = nvm.DeviceHealthFatal
			},
			health: nvm.PoolHealthFailed,
			free:   0,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			d0, d1 := dimm(0, 0, nvm.GiB(256)), dimm(0, 1, nvm.GiB(256))
			if tc.modify != nil {
				tc.modify(&d1)
			}
			devices := []nvm.DeviceDiscovery{d0, d1}

			pools, err := (&Assembler{}).Assemble(features(), devices, nil,
				[]nvm.InterleaveSet{set(1, 0, nvm.GiB(100), tc.mirrored, d0, d1)}, nil)
			require.NoError(t, err)
			require.Len(t, pools, 1)
			require.Equal(t, tc.health, pools[0].Health)
			require.Equal(t, tc.free, pools[0].FreeCapacity)
			if tc.free == 0 {
				for _, pd := range pools[0].Dimms {
					require.Zero(t, pd.FreeCapacity)
				}
			}
		})
	}
}

func TestSecurityRollup(t *testing.T) {
	d0, d1 := dimm(0, 0, nvm.GiB(256)), dimm(0, 1, nvm.GiB(256))
	sets := func() []nvm.InterleaveSet {
		return []nvm.InterleaveSet{set(1, 0, nvm.GiB(100), false, d0, d1)}
	}

	pools, err := (&Assembler{}).Assemble(features(), []nvm.DeviceDiscovery{d0, d1}, nil, sets(), nil)
	require.NoError(t, err)
	require.True(t, pools[0].EncryptionCapable)
	require.False(t, pools[0].EncryptionEnabled)
	require.True(t, pools[0].EraseCapable)

	d0.LockState = nvm.LockStateUnlocked
	d1.LockState = nvm.LockStateUnlocked
	d1.Security = nvm.SecurityCapabilities{EraseOverwriteCapable: true}
	pools, err = (&Assembler{}).Assemble(features(), []nvm.DeviceDiscovery{d0, d1}, nil, sets(), nil)
	require.NoError(t, err)
	require.False(t, pools[0].EncryptionCapable)
	require.True(t, pools[0].EncryptionEnabled)
	require.True(t, pools[0].EraseCapable)

	d1.Security = nvm.SecurityCapabilities{}
	pools, err = (&Assembler{}).Assemble(features(), []nvm.DeviceDiscovery{d0, d1}, nil, sets(), nil)
	require.NoError(t, err)
	require.False(t, pools[0].EraseCapable)
}

func TestAssembleErrors(t *testing.T) {
	var (
		devices []nvm.DeviceDiscovery
		sets    []nvm.InterleaveSet
	)
	for socket := uint16(0); socket < 10; socket++ {
		d := dimm(socket, 0, nvm.GiB(256))
		devices = append(devices, d)
		sets = append(sets, set(uint32(socket)+1, socket, nvm.GiB(100), false, d))
	}

	_, err := (&Assembler{}).Assemble(features(), devices, nil, sets, nil)
	require.ErrorIs(t, err, nvm.ErrBadPoolHealth)

	_, err = (&Assembler{MaxPools: 9}).Assemble(features(), devices[:9], nil, sets[:9], nil)
	require.NoError(t, err)

	_, err = (&Assembler{MaxPools: 2}).Assemble(features(), devices[:3], nil, sets[:3], nil)
	require.ErrorIs(t, err, nvm.ErrArrayTooSmall)

	_, err = (&Assembler{}).Assemble(features(), devices[:1], nil, sets[:2], nil)
	require.ErrorIs(t, err, nvm.ErrDriverFailed)
}

func current(status uint16, sets ...*pcd.InterleaveInfo) *pcd.PlatformConfigData {
	c := &pcd.CurrentConfig{Header: table.NewHeader(pcd.CurrentSignature), Status: status}
	for _, s := range sets {
		c.Extensions = append(c.Extensions, s)
	}
	return pcd.NewPlatformConfigData(c, nil, nil)
}

func info(index uint16, typ pcd.MemoryType, format nvm.InterleaveFormat, offset, size uint64, dimms ...nvm.DeviceDiscovery) *pcd.InterleaveInfo {
	i := &pcd.InterleaveInfo{Index: index, MemoryType: typ, Format: format.Encode()}
	for _, d := range dimms {
		i.Dimms = append(i.Dimms, pcd.DimmInfo{
			Manufacturer: d.Manufacturer,
			SerialNumber: d.SerialNumber,
			ModelNumber:  d.ModelNumber,
			Offset:       offset,
			Size:         size,
		})
	}
	return i
}

func TestSetsFromCurrentConfig(t *testing.T) {
	d0, d1 := dimm(0, 0, nvm.GiB(256)), dimm(0, 1, nvm.GiB(256))
	d2 := dimm(1, 0, nvm.GiB(256))
	d3 := dimm(1, 1, nvm.GiB(256))
	d1.Health = nvm.DeviceHealthCritical
	devices := []nvm.DeviceDiscovery{d2, d0, d1, d3}

	ad := pcd.MemoryTypeAppDirect
	pcds := map[nvm.DeviceHandle]*pcd.PlatformConfigData{
		d0.Handle: current(pcd.CurrentStatusSuccess,
			info(7, pcd.MemoryTypeMemory, oneWay, 0, nvm.GiB(56), d0),
			info(3, ad, twoWay, 0, nvm.GiB(100), d0, d1),
			info(1, ad, oneWay, nvm.GiB(100), nvm.GiB(100), d0)),
		d1.Handle: current(pcd.CurrentStatusSuccess,
			info(3, ad, twoWay, 0, nvm.GiB(100), d0, d1)),
		d2.Handle: current(pcd.CurrentStatusDimmsNotFound,
			info(1, ad, oneWay, 0, nvm.GiB(256), d2)),
		// d3 has no platform config data
	}

	sets, err := SetsFromCurrentConfig(devices, pcds)
	require.NoError(t, err)
	require.Len(t, sets, 3)

	require.Equal(t, uint32(1), sets[0].DriverID)
	require.Equal(t, uint32(1), sets[0].SetIndex)
	require.Equal(t, uint16(0), sets[0].SocketID)
	require.Equal(t, nvm.GiB(100), sets[0].Size)
	require.Equal(t, nvm.InterleaveSetHealthNormal, sets[0].Health)
	require.Equal(t, []nvm.InterleaveDimm{
		{UID: d0.UID, Handle: d0.Handle, Offset: nvm.GiB(100), Size: nvm.GiB(100)},
	}, sets[0].Dimms)

	require.Equal(t, uint32(2), sets[1].DriverID)
	require.Equal(t, uint32(3), sets[1].SetIndex)
	require.Equal(t, nvm.GiB(200), sets[1].Size)
	require.Equal(t, nvm.GiB(200), sets[1].AvailableSize)
	require.Equal(t, twoWay, sets[1].Format)
	require.Equal(t, nvm.InterleaveSetHealthDegraded, sets[1].Health)
	require.Len(t, sets[1].Dimms, 2)

	require.Equal(t, uint32(3), sets[2].DriverID)
	require.Equal(t, uint16(1), sets[2].SocketID)
	require.Equal(t, nvm.InterleaveSetHealthFailed, sets[2].Health)

	pcds[d0.Handle].Current.Extensions[1].(*pcd.InterleaveInfo).Format = 0
	_, err = SetsFromCurrentConfig(devices, pcds)
	require.ErrorIs(t, err, nvm.ErrCorrupt)
}
