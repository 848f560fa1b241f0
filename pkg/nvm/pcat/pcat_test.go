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

package pcat_test

import (
	"encoding/binary"
	"testing"

	"github.com/intel/nvm-capacity/pkg/nvm"
	. "github.com/intel/nvm-capacity/pkg/nvm/pcat"
	"github.com/intel/nvm-capacity/pkg/nvm/table"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func samplePlatform() *nvm.PlatformCapabilities {
	return &nvm.PlatformCapabilities{
		Revision:             2,
		BIOSConfigSupport:    true,
		BIOSRuntimeSupport:   false,
		CurrentVolatileMode:  nvm.VolatileModeMemory,
		CurrentAppDirectMode: nvm.AppDirectModeEnabled,
		MirrorSupported:      true,
		StorageModeSupported: true,
		MemoryMode: nvm.MemoryCapability{
			Supported:         true,
			AlignmentExponent: 26,
			Formats: []nvm.InterleaveFormat{
				{Ways: nvm.Ways1, Channel: nvm.Size4KB, IMC: nvm.Size4KB, Recommended: true},
			},
		},
		AppDirect: nvm.MemoryCapability{
			Supported:         true,
			AlignmentExponent: 26,
			Formats: []nvm.InterleaveFormat{
				{Ways: nvm.Ways1, Channel: nvm.Size4KB, IMC: nvm.Size4KB, Recommended: true},
				{Ways: nvm.Ways2, Channel: nvm.Size4KB, IMC: nvm.Size4KB, Recommended: true},
				{Ways: nvm.Ways6, Channel: nvm.Size4KB, IMC: nvm.Size4KB, Recommended: true},
				{Ways: nvm.Ways1, Channel: nvm.Size256B, IMC: nvm.Size4KB},
			},
		},
	}
}

func TestBuildParse(t *testing.T) {
	pc := samplePlatform()

	buf, err := Build(pc)
	require.NoError(t, err)
	require.NoError(t, table.VerifyChecksum(buf))

	got, err := Parse(buf)
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(pc, got))
}

func TestFormatFanOut(t *testing.T) {
	buf := header(t, 2)
	buf = append(buf, platformInfo(0x1, memModeAppDirect, 0x4, 0)...)
	buf = append(buf, interleaveInfo(3, 27,
		0x4|0x40<<8|uint32(nvm.Ways1|nvm.Ways4|nvm.Ways24)<<16|1<<31)...)
	buf = seal(buf)

	pc, err := Parse(buf)
	require.NoError(t, err)
	require.Equal(t, uint8(27), pc.AppDirect.AlignmentExponent)
	require.Equal(t, []nvm.InterleaveFormat{
		{Ways: nvm.Ways1, Channel: nvm.Size256B, IMC: nvm.Size4KB, Recommended: true},
		{Ways: nvm.Ways4, Channel: nvm.Size256B, IMC: nvm.Size4KB, Recommended: true},
		{Ways: nvm.Ways24, Channel: nvm.Size256B, IMC: nvm.Size4KB, Recommended: true},
	}, pc.AppDirect.Formats)
}

func TestCurrentMode(t *testing.T) {
	type testCase struct {
		name      string
		current   uint8
		volatile  nvm.VolatileMode
		appDirect nvm.AppDirectMode
	}

	for _, tc := range []*testCase{
		{"1LM, disabled", 0x0, nvm.VolatileMode1LM, nvm.AppDirectModeDisabled},
		{"memory, enabled", 0x5, nvm.VolatileModeMemory, nvm.AppDirectModeEnabled},
		{"auto, reserved 2", 0xa, nvm.VolatileModeAuto, nvm.AppDirectModeUnknown},
		{"reserved, reserved 3", 0xf, nvm.VolatileModeUnknown, nvm.AppDirectModeUnknown},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := header(t, 1)
			buf = append(buf, platformInfo(0, 0, tc.current, 0)...)
			pc, err := Parse(seal(buf))
			require.NoError(t, err)
			require.Equal(t, tc.volatile, pc.CurrentVolatileMode)
			require.Equal(t, tc.appDirect, pc.CurrentAppDirectMode)
		})
	}
}

func TestParseErrors(t *testing.T) {
	type testCase struct {
		name string
		buf  func() []byte
	}

	valid := func() []byte {
		buf, err := Build(samplePlatform())
		require.NoError(t, err)
		return buf
	}

	for _, tc := range []*testCase{
		{
			name: "zero length extension at offset 48",
			buf: func() []byte {
				buf := header(t, 1)
				buf = append(buf, ext(7, 8)...)
				buf = append(buf, ext(0, 0)...)
				buf = append(buf, make([]byte, 12)...)
				return seal(buf)
			},
		},
		{
			name: "extension past table end",
			buf: func() []byte {
				buf := header(t, 1)
				buf = append(buf, ext(0, 64)...)
				buf = append(buf, make([]byte, 12)...)
				return seal(buf)
			},
		},
		{
			name: "bad checksum",
			buf: func() []byte {
				buf := valid()
				buf[table.ChecksumOffset]++
				return buf
			},
		},
		{
			name: "bad signature",
			buf: func() []byte {
				buf := valid()
				copy(buf, "TACP")
				return seal(buf)
			},
		},
		{
			name: "too short",
			buf: func() []byte {
				return valid()[:table.PcatHeaderSize-1]
			},
		},
		{
			name: "length beyond buffer",
			buf: func() []byte {
				buf := valid()
				return buf[:len(buf)-1]
			},
		},
		{
			name: "oversized",
			buf: func() []byte {
				buf := header(t, 1)
				buf = append(buf, ext(7, 0xfff0)...)
				buf = append(buf, make([]byte, MaxSize)...)
				return seal(buf)
			},
		},
		{
			name: "truncated platform info",
			buf: func() []byte {
				buf := header(t, 1)
				buf = append(buf, ext(0, 8)...)
				buf = append(buf, make([]byte, 4)...)
				return seal(buf)
			},
		},
		{
			name: "format count overflow",
			buf: func() []byte {
				buf := header(t, 1)
				info := interleaveInfo(3, 26, 0x40|0x40<<8|1<<16)
				binary.LittleEndian.PutUint16(info[10:], 2)
				return seal(append(buf, info...))
			},
		},
		{
			name: "invalid channel size",
			buf: func() []byte {
				buf := header(t, 1)
				return seal(append(buf, interleaveInfo(3, 26, 0x3|0x40<<8|1<<16)...))
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			pc, err := Parse(tc.buf())
			require.ErrorIs(t, err, nvm.ErrBadPcat)
			require.Nil(t, pc)
		})
	}
}

func TestUnknownTablesSkipped(t *testing.T) {
	buf := header(t, 1)
	buf = append(buf, ext(2, 24)...)
	buf = append(buf, make([]byte, 20)...)
	buf = append(buf, interleaveInfo(4, 26, 0x40|0x40<<8|1<<16)...)
	buf = append(buf, platformInfo(0x3, memModeAppDirect, 0, rasMirrorBit)...)

	pc, err := Parse(seal(buf))
	require.NoError(t, err)
	require.True(t, pc.BIOSConfigSupport)
	require.True(t, pc.BIOSRuntimeSupport)
	require.True(t, pc.AppDirect.Supported)
	require.True(t, pc.MirrorSupported)
	require.Empty(t, pc.AppDirect.Formats)
	require.Empty(t, pc.OneLM.Formats)
}

const (
	memModeAppDirect = 1 << 2
	rasMirrorBit     = 1 << 0
)

func header(t *testing.T, revision uint8) []byte {
	t.Helper()
	w := table.NewWriter(table.PcatHeaderSize)
	h := table.NewHeader(Signature)
	h.Revision = revision
	h.Put(w)
	w.Zero(table.PcatHeaderSize - table.HeaderSize)
	return w.Bytes()
}

func seal(buf []byte) []byte {
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(buf)))
	table.SetChecksum(buf, table.ChecksumOffset)
	return buf
}

func ext(typ, length uint16) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint16(b, typ)
	binary.LittleEndian.PutUint16(b[2:], length)
	if length > 4 {
		b = append(b, make([]byte, length-4)...)
	}
	return b
}

func platformInfo(config, modes, current, ras uint8) []byte {
	b := ext(0, 16)
	b[4], b[5], b[6], b[7] = config, modes, current, ras
	return b
}

func interleaveInfo(mode uint8, alignment uint16, formats ...uint32) []byte {
	b := ext(1, uint16(12+4*len(formats)))
	b[4] = mode
	binary.LittleEndian.PutUint16(b[8:], alignment)
	binary.LittleEndian.PutUint16(b[10:], uint16(len(formats)))
	for i, f := range formats {
		binary.LittleEndian.PutUint32(b[12+4*i:], f)
	}
	return b
}
