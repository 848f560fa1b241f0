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

package pcat

import (
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/table"
)

// Build encodes platform capabilities as a checksummed PCAT. Interleave
// formats which differ only in their way count are packed into a single
// BIOS format entry, the inverse of the fan-out done by Parse.
func Build(pc *nvm.PlatformCapabilities) ([]byte, error) {
	w := table.NewWriter(MaxSize)

	h := table.NewHeader(Signature)
	h.Revision = pc.Revision
	h.Put(w)
	w.Zero(table.PcatHeaderSize - table.HeaderSize)

	putPlatformInfo(w, pc)

	for _, m := range []struct {
		mode uint8
		c    *nvm.MemoryCapability
	}{
		{interleaveMode1LM, &pc.OneLM},
		{interleaveMode2LM, &pc.MemoryMode},
		{interleaveModeAppDirect, &pc.AppDirect},
	} {
		if !m.c.Supported && len(m.c.Formats) == 0 && m.c.AlignmentExponent == 0 {
			continue
		}
		if err := putMemoryInterleave(w, m.mode, m.c); err != nil {
			return nil, err
		}
	}

	if w.Len() > MaxSize {
		return nil, pcatError("encoded table size %d exceeds %d", w.Len(), MaxSize)
	}

	return table.Seal(w, 0), nil
}

func putPlatformInfo(w *table.Writer, pc *nvm.PlatformCapabilities) {
	var config, modes, current, ras uint8

	if pc.BIOSConfigSupport {
		config |= biosConfigChange
	}
	if pc.BIOSRuntimeSupport {
		config |= biosRuntimeInterface
	}
	if pc.OneLM.Supported {
		modes |= memMode1LM
	}
	if pc.MemoryMode.Supported {
		modes |= memModeMemory
	}
	if pc.AppDirect.Supported {
		modes |= memModeAppDirect
	}
	if pc.StorageModeSupported {
		modes |= memModeStorage
	}
	switch pc.CurrentVolatileMode {
	case nvm.VolatileModeMemory:
		current = 1
	case nvm.VolatileModeAuto:
		current = 2
	case nvm.VolatileModeUnknown:
		current = 3
	}
	switch pc.CurrentAppDirectMode {
	case nvm.AppDirectModeEnabled:
		current |= 1 << 2
	case nvm.AppDirectModeUnknown:
		current |= 3 << 2
	}
	if pc.MirrorSupported {
		ras |= rasMirror
	}
	if pc.SpareSupported {
		ras |= rasSpare
	}
	if pc.MigrationSupported {
		ras |= rasMigration
	}

	w.U16(extPlatformInfo)
	w.U16(platformInfoSize)
	w.U8(config)
	w.U8(modes)
	w.U8(current)
	w.U8(ras)
	w.Zero(8)
}

func putMemoryInterleave(w *table.Writer, mode uint8, c *nvm.MemoryCapability) error {
	packed, err := packFormats(c.Formats)
	if err != nil {
		return err
	}

	w.U16(extMemoryInterleave)
	w.U16(uint16(memoryInterleaveSize + len(packed)*formatSize))
	w.U8(mode)
	w.Zero(3)
	w.U16(uint16(c.AlignmentExponent))
	w.U16(uint16(len(packed)))
	for _, v := range packed {
		w.U32(v)
	}

	return nil
}

func packFormats(formats []nvm.InterleaveFormat) ([]uint32, error) {
	var (
		packed []uint32
		index  = map[uint32]int{}
	)

	for _, f := range formats {
		if err := f.Validate(); err != nil {
			return nil, pcatError("%v", err)
		}
		ways := uint32(f.Ways) << 16
		key := f.Encode() &^ ways
		if i, ok := index[key]; ok {
			packed[i] |= ways
			continue
		}
		index[key] = len(packed)
		packed = append(packed, key|ways)
	}

	return packed, nil
}
