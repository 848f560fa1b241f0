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

package goal_test

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
	. "github.com/intel/nvm-capacity/pkg/nvm/goal"

	"github.com/stretchr/testify/require"
)

func features() nvm.NvmFeatureSet {
	return nvm.NvmFeatureSet{
		ModifyDeviceCapacity: true,
		MemoryMode:           true,
		AppDirectMode:        true,
		StorageMode:          true,
	}
}

func platform() *nvm.PlatformCapabilities {
	return &nvm.PlatformCapabilities{
		BIOSConfigSupport: true,
		MirrorSupported:   true,
		MemoryMode:        nvm.MemoryCapability{Supported: true, AlignmentExponent: 30},
		AppDirect:         nvm.MemoryCapability{Supported: true, AlignmentExponent: 26},
	}
}

func dimm(uid string, capacityGiB uint64) *nvm.DeviceDiscovery {
	return &nvm.DeviceDiscovery{
		UID:           uid,
		Capacity:      nvm.GiB(capacityGiB),
		Manageability: nvm.Manageable,
		Capabilities: nvm.DeviceCapabilities{
			MemoryModeCapable:    true,
			AppDirectModeCapable: true,
		},
	}
}

var twoWay = nvm.InterleaveFormat{Ways: nvm.Ways2, Channel: nvm.Size4KB, IMC: nvm.Size4KB}

func TestValidate(t *testing.T) {
	type testCase struct {
		name     string
		goal     nvm.ConfigGoal
		device   func() *nvm.DeviceDiscovery
		features func(*nvm.NvmFeatureSet)
		platform func(*nvm.PlatformCapabilities)
		err      error
		events   int
	}

	for _, tc := range []*testCase{
		{
			name: "mirrored 2-way app direct",
			goal: nvm.ConfigGoal{
				AppDirect: []nvm.AppDirectExtent{
					{Size: 100, Mirrored: true, Interleave: twoWay, Dimms: []string{"dimm0", "dimm1"}},
				},
			},
		},
		{
			name: "too many extents before anything else",
			goal: nvm.ConfigGoal{
				MemorySize: 1 << 40,
				AppDirect:  []nvm.AppDirectExtent{{Size: 1}, {Size: 1}, {Size: 1}},
			},
			features: func(f *nvm.NvmFeatureSet) { *f = nvm.NvmFeatureSet{} },
			err:      nvm.ErrBadDeviceConfig,
		},
		{
			name:     "memory mode not supported",
			goal:     nvm.ConfigGoal{MemorySize: 16},
			features: func(f *nvm.NvmFeatureSet) { f.MemoryMode = false },
			err:      nvm.ErrConfigNotSupported,
			events:   1,
		},
		{
			name: "app direct not capable",
			goal: nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 16}}},
			device: func() *nvm.DeviceDiscovery {
				d := dimm("dimm0", 256)
				d.Capabilities.AppDirectModeCapable = false
				return d
			},
			err:    nvm.ErrConfigNotSupported,
			events: 1,
		},
		{
			name:     "mirroring not supported",
			goal:     nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 16, Mirrored: true}}},
			platform: func(pc *nvm.PlatformCapabilities) { pc.MirrorSupported = false },
			err:      nvm.ErrConfigNotSupported,
			events:   1,
		},
		{
			name: "two mirrored extents",
			goal: nvm.ConfigGoal{
				AppDirect: []nvm.AppDirectExtent{{Size: 16, Mirrored: true}, {Size: 16, Mirrored: true}},
			},
			err: nvm.ErrBadDeviceConfig,
		},
		{
			name: "empty extent",
			goal: nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 0}}},
			err:  nvm.ErrBadSize,
		},
		{
			name: "mirrored extent does not fit",
			goal: nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 129, Mirrored: true}}},
			err:  nvm.ErrBadSize,
		},
		{
			name: "memory and app direct exceed capacity",
			goal: nvm.ConfigGoal{
				MemorySize: 128,
				AppDirect:  []nvm.AppDirectExtent{{Size: 64}, {Size: 65}},
			},
			err: nvm.ErrBadSize,
		},
		{
			name: "memory takes all",
			goal: nvm.ConfigGoal{MemorySize: nvm.SizeAllRemaining},
		},
		{
			name: "nothing left after memory",
			goal: nvm.ConfigGoal{
				MemorySize: nvm.SizeAllRemaining,
				AppDirect:  []nvm.AppDirectExtent{{Size: 1}},
			},
			err: nvm.ErrBadSize,
		},
		{
			name: "size overflows 64 bits",
			goal: nvm.ConfigGoal{MemorySize: nvm.MaxSizeGiB + 1},
			err:  nvm.ErrBadSize,
		},
		{
			name: "mirrored size wraps when doubled",
			goal: nvm.ConfigGoal{
				AppDirect: []nvm.AppDirectExtent{{Size: 1<<63 + 64, Mirrored: true}},
			},
			err: nvm.ErrBadSize,
		},
		{
			name:     "memory alignment",
			goal:     nvm.ConfigGoal{MemorySize: 3},
			platform: func(pc *nvm.PlatformCapabilities) { pc.MemoryMode.AlignmentExponent = 31 },
			err:      nvm.ErrBadAlignment,
		},
		{
			name:     "app direct alignment",
			goal:     nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 1}}},
			platform: func(pc *nvm.PlatformCapabilities) { pc.AppDirect.AlignmentExponent = 32 },
			err:      nvm.ErrBadAlignment,
		},
		{
			name:     "bogus platform alignment",
			goal:     nvm.ConfigGoal{MemorySize: 0},
			platform: func(pc *nvm.PlatformCapabilities) { pc.AppDirect.AlignmentExponent = 64 },
			err:      nvm.ErrUnknown,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			device := dimm("dimm0", 256)
			if tc.device != nil {
				device = tc.device()
			}
			f := features()
			if tc.features != nil {
				tc.features(&f)
			}
			pc := platform()
			if tc.platform != nil {
				tc.platform(pc)
			}
			ev := events.New()

			err := Validate(&tc.goal, f, device, pc, ev)
			if tc.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.err)
			}
			require.Equal(t, tc.events, ev.Count(events.ConfigNotSupported))
		})
	}
}

func TestValidateWithoutPlatform(t *testing.T) {
	goal := &nvm.ConfigGoal{AppDirect: []nvm.AppDirectExtent{{Size: 7}}}
	require.NoError(t, Validate(goal, features(), dimm("dimm0", 16), nil, nil))

	goal.AppDirect[0].Mirrored = true
	require.ErrorIs(t, Validate(goal, features(), dimm("dimm0", 16), nil, nil), nvm.ErrConfigNotSupported)
}

func TestSizeFromCapacity(t *testing.T) {
	type testCase struct {
		name      string
		size      uint64
		remaining uint64
		mirrored  bool
		result    uint64
	}

	for _, tc := range []*testCase{
		{"explicit", 10, nvm.GiB(100), false, 10},
		{"explicit mirrored", 10, nvm.GiB(100), true, 10},
		{"all remaining", nvm.SizeAllRemaining, nvm.GiB(100), false, 100},
		{"all remaining mirrored", nvm.SizeAllRemaining, nvm.GiB(100), true, 50},
		{"all remaining mirrored odd", nvm.SizeAllRemaining, nvm.GiB(101), true, 50},
		{"partial GiB dropped", nvm.SizeAllRemaining, nvm.GiB(3) + 12345, false, 3},
		{"nothing remaining", nvm.SizeAllRemaining, 0, true, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.result, SizeFromCapacity(tc.size, tc.remaining, tc.mirrored))
		})
	}
}

func TestValidateAlignment(t *testing.T) {
	for exp := uint8(0); exp < 64; exp++ {
		align := uint64(1) << exp
		for _, size := range []uint64{0, 1, 2, 3, 4, 7, 8, 100, 1024, nvm.SizeAllRemaining} {
			err := ValidateAlignment(size, exp)
			switch {
			case size == 0 || size == nvm.SizeAllRemaining:
				require.NoError(t, err)
			case nvm.GiB(size)%align == 0:
				require.NoError(t, err, "size %d, exponent %d", size, exp)
			default:
				require.ErrorIs(t, err, nvm.ErrBadAlignment, "size %d, exponent %d", size, exp)
			}
		}
	}
	require.ErrorIs(t, ValidateAlignment(1, 64), nvm.ErrUnknown)
}

func topo(socket, imc, channel uint16) nvm.DeviceDiscovery {
	return nvm.DeviceDiscovery{
		UID:                fmt.Sprintf("s%dm%dc%d", socket, imc, channel),
		SocketID:           socket,
		MemoryControllerID: imc,
		ChannelID:          channel,
	}
}

func TestVerifyInterleaveSetRules(t *testing.T) {
	type testCase struct {
		name  string
		dimms []nvm.DeviceDiscovery
		err   error
	}

	for _, tc := range []*testCase{
		{"empty", nil, nvm.ErrUnknown},
		{"1-way", []nvm.DeviceDiscovery{topo(0, 0, 0)}, nil},
		{"across sockets", []nvm.DeviceDiscovery{topo(0, 0, 0), topo(1, 0, 0)}, nvm.ErrConfigNotSupported},
		{"2-way same controller", []nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 0, 1)}, nil},
		{"2-way matching channels", []nvm.DeviceDiscovery{topo(0, 0, 1), topo(0, 1, 1)}, nil},
		{"2-way mismatched channels", []nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 1, 1)}, nvm.ErrConfigNotSupported},
		{"3-way one controller", []nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 0, 1), topo(0, 0, 2)}, nil},
		{"3-way across controllers", []nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 0, 1), topo(0, 1, 2)}, nvm.ErrConfigNotSupported},
		{
			"4-way matching",
			[]nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 1, 0), topo(0, 0, 1), topo(0, 1, 1)},
			nil,
		},
		{
			"4-way single controller",
			[]nvm.DeviceDiscovery{topo(0, 0, 0), topo(0, 0, 1), topo(0, 0, 2), topo(0, 0, 3)},
			nvm.ErrConfigNotSupported,
		},
		{
			"8-way",
			[]nvm.DeviceDiscovery{
				topo(0, 0, 0), topo(0, 0, 1), topo(0, 0, 2), topo(0, 0, 3),
				topo(0, 1, 0), topo(0, 1, 1), topo(0, 1, 2), topo(0, 1, 3),
			},
			nvm.ErrUnknown,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifyInterleaveSetRules(tc.dimms)
			if tc.err == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func uids(dimms []nvm.DeviceDiscovery) []string {
	var result []string
	for _, d := range dimms {
		result = append(result, d.UID)
	}
	return result
}

func TestOrderDimms(t *testing.T) {
	dimms := []nvm.DeviceDiscovery{topo(0, 1, 1), topo(0, 0, 1), topo(0, 1, 0), topo(0, 0, 0)}
	OrderDimms(dimms, 1)
	require.Equal(t, []string{"s0m1c1", "s0m0c1", "s0m1c0", "s0m0c0"}, uids(dimms))

	OrderDimms(dimms, 2)
	require.Equal(t, []string{"s0m0c0", "s0m1c0", "s0m0c1", "s0m1c1"}, uids(dimms))

	six := []nvm.DeviceDiscovery{
		topo(0, 0, 0), topo(0, 0, 1), topo(0, 0, 2),
		topo(0, 1, 0), topo(0, 1, 1), topo(0, 1, 2),
	}
	OrderDimms(six, 2)
	require.Equal(t, []string{"s0m0c0", "s0m1c1", "s0m0c2", "s0m1c0", "s0m0c1", "s0m1c2"}, uids(six))
}

func TestDimmConfig(t *testing.T) {
	devices := []nvm.DeviceDiscovery{
		{UID: "dimm0", Handle: 0x0001, SocketID: 0, Capacity: nvm.GiB(256)},
		{UID: "dimm1", Handle: 0x0011, SocketID: 0, Capacity: nvm.GiB(256)},
		{UID: "dimm2", Handle: 0x1001, SocketID: 1, Capacity: nvm.GiB(256)},
	}
	goals := []*nvm.ConfigGoal{
		{
			MemorySize: 56,
			AppDirect: []nvm.AppDirectExtent{
				{Size: 100, SetID: 1, Mirrored: true, Interleave: twoWay},
			},
		},
		{
			MemorySize: 56,
			AppDirect: []nvm.AppDirectExtent{
				{Size: 100, SetID: 1, Mirrored: true, Interleave: twoWay},
			},
		},
		{MemorySize: 256},
	}

	buf := &bytes.Buffer{}
	for i := range devices {
		require.NoError(t, WriteDimmConfig(buf, &devices[i], goals[i], i == 0))
	}
	require.True(t, strings.HasPrefix(buf.String(), "#SocketID,DimmHandle,Capacity,MemorySize,"))
	require.Contains(t, buf.String(), "\n1,4097,256,256,0,0,0,0,0,0,0,0\n")

	configs, err := ReadDimmConfig(strings.NewReader(buf.String()))
	require.NoError(t, err)
	require.Len(t, configs, 3)
	require.Equal(t, uint16(1), configs[2].SocketID)
	require.Equal(t, nvm.DeviceHandle(0x1001), configs[2].Handle)
	require.Equal(t, uint64(256), configs[2].Capacity)
	require.Empty(t, configs[2].Goal.AppDirect)

	goal, err := LoadGoal(configs, &devices[1], devices)
	require.NoError(t, err)
	require.Equal(t, uint64(56), goal.MemorySize)
	require.Len(t, goal.AppDirect, 1)
	require.Equal(t, twoWay, goal.AppDirect[0].Interleave)
	require.True(t, goal.AppDirect[0].Mirrored)
	require.Equal(t, []string{"dimm0", "dimm1"}, goal.AppDirect[0].Dimms)

	_, err = LoadGoal(configs[1:], &devices[1], devices)
	require.ErrorIs(t, err, nvm.ErrBadDeviceConfig)

	small := devices[0]
	small.Capacity = nvm.GiB(128)
	_, err = LoadGoal(configs, &small, devices)
	require.ErrorIs(t, err, nvm.ErrBadSize)

	_, err = LoadGoal(configs, &nvm.DeviceDiscovery{UID: "other", Handle: 0x2001, SocketID: 2}, devices)
	require.ErrorIs(t, err, nvm.ErrBadDeviceConfig)
}

func TestReadDimmConfig(t *testing.T) {
	type testCase struct {
		name    string
		input   string
		err     error
		configs int
	}

	for _, tc := range []*testCase{
		{
			name:    "comments and extra fields",
			input:   "#header\n  0,1,256,0,0,0,0,0,0,0,0,0,7,8\n",
			configs: 1,
		},
		{
			name:  "too few fields",
			input: "0,1,256,0\n",
			err:   nvm.ErrBadDeviceConfig,
		},
		{
			name:  "not a number",
			input: "0,1,lots,0,0,0,0,0,0,0,0,0\n",
			err:   nvm.ErrBadDeviceConfig,
		},
		{
			name:  "bad interleave format",
			input: "0,1,256,0,16,3,0,1,0,0,0,0\n",
			err:   nvm.ErrBadDeviceConfig,
		},
		{
			name:  "empty",
			input: "",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			configs, err := ReadDimmConfig(strings.NewReader(tc.input))
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Len(t, configs, tc.configs)
		})
	}
}
