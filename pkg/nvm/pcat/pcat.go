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
	"fmt"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/table"
)

const (
	// Signature identifies a platform capabilities table.
	Signature = "PCAT"
	// MaxSize is the largest PCAT we accept.
	MaxSize = 4096
)

// extension table types
const (
	extPlatformInfo     = 0
	extMemoryInterleave = 1
)

const (
	platformInfoSize     = 16
	memoryInterleaveSize = 12
	formatSize           = 4
)

// management software config support bits
const (
	biosConfigChange     = 1 << 0
	biosRuntimeInterface = 1 << 1
)

// memory mode capability bits
const (
	memMode1LM       = 1 << 0
	memModeMemory    = 1 << 1
	memModeAppDirect = 1 << 2
	memModeStorage   = 1 << 4
)

// persistent memory RAS capability bits
const (
	rasMirror    = 1 << 0
	rasSpare     = 1 << 1
	rasMigration = 1 << 2
)

// memory modes of interleave capability tables
const (
	interleaveMode1LM       = 0
	interleaveMode2LM       = 1
	interleaveModeAppDirect = 3
)

var log = logger.Get("pcat")

func pcatError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{nvm.ErrBadPcat}, args...)...)
}

// Parse decodes a platform capabilities table. Any malformed input fails
// the whole parse with an error wrapping nvm.ErrBadPcat.
func Parse(buf []byte) (*nvm.PlatformCapabilities, error) {
	if len(buf) > MaxSize {
		return nil, pcatError("table size %d exceeds %d", len(buf), MaxSize)
	}

	h, err := table.DecodeHeader(buf)
	if err != nil {
		return nil, pcatError("%v", err)
	}
	if err := h.Check(Signature, table.PcatHeaderSize, len(buf)); err != nil {
		return nil, pcatError("%v", err)
	}

	buf = buf[:h.Length]
	if err := table.VerifyChecksum(buf); err != nil {
		return nil, pcatError("%v", err)
	}

	pc := &nvm.PlatformCapabilities{
		Revision: h.Revision,
	}

	w := table.Extensions(buf, table.PcatHeaderSize, len(buf))
	for w.Next() {
		ext := w.Header()
		switch ext.Type {
		case extPlatformInfo:
			err = parsePlatformInfo(pc, w.Table())
		case extMemoryInterleave:
			err = parseMemoryInterleave(pc, w.Table())
		default:
			log.Debug("skipping PCAT extension table of type %d at offset %d", ext.Type, ext.Offset)
		}
		if err != nil {
			return nil, err
		}
	}
	if err := w.Err(); err != nil {
		return nil, pcatError("%v", err)
	}

	return pc, nil
}

func parsePlatformInfo(pc *nvm.PlatformCapabilities, buf []byte) error {
	if len(buf) < platformInfoSize {
		return pcatError("platform info table length %d, expected %d", len(buf), platformInfoSize)
	}

	r := table.NewReader(buf)
	r.Skip(table.ExtHeaderSize)
	config := r.U8()
	modes := r.U8()
	current := r.U8()
	ras := r.U8()

	pc.BIOSConfigSupport = config&biosConfigChange != 0
	pc.BIOSRuntimeSupport = config&biosRuntimeInterface != 0
	pc.CurrentVolatileMode = volatileMode(current)
	pc.CurrentAppDirectMode = appDirectMode(current)
	pc.MirrorSupported = ras&rasMirror != 0
	pc.SpareSupported = ras&rasSpare != 0
	pc.MigrationSupported = ras&rasMigration != 0
	pc.OneLM.Supported = modes&memMode1LM != 0
	pc.MemoryMode.Supported = modes&memModeMemory != 0
	pc.AppDirect.Supported = modes&memModeAppDirect != 0
	pc.StorageModeSupported = modes&memModeStorage != 0

	return nil
}

func volatileMode(current uint8) nvm.VolatileMode {
	switch current & 0x3 {
	case 0:
		return nvm.VolatileMode1LM
	case 1:
		return nvm.VolatileModeMemory
	case 2:
		return nvm.VolatileModeAuto
	}
	return nvm.VolatileModeUnknown
}

// appDirectMode decodes bits 3:2 of the current memory mode. Reserved
// values are reported as unknown instead of failing the parse.
func appDirectMode(current uint8) nvm.AppDirectMode {
	switch (current >> 2) & 0x3 {
	case 0:
		return nvm.AppDirectModeDisabled
	case 1:
		return nvm.AppDirectModeEnabled
	}
	return nvm.AppDirectModeUnknown
}

func parseMemoryInterleave(pc *nvm.PlatformCapabilities, buf []byte) error {
	if len(buf) < memoryInterleaveSize {
		return pcatError("memory interleave table length %d shorter than %d",
			len(buf), memoryInterleaveSize)
	}

	r := table.NewReader(buf)
	r.Skip(table.ExtHeaderSize)
	mode := r.U8()
	r.Skip(3)
	alignment := r.U16()
	count := int(r.U16())

	if memoryInterleaveSize+count*formatSize > len(buf) {
		return pcatError("%d interleave formats overflow %d byte table", count, len(buf))
	}

	var c *nvm.MemoryCapability
	switch mode {
	case interleaveMode1LM:
		c = &pc.OneLM
	case interleaveMode2LM:
		c = &pc.MemoryMode
	case interleaveModeAppDirect:
		c = &pc.AppDirect
	default:
		log.Error("skipping interleave capabilities of unknown memory mode %d", mode)
		return nil
	}

	if !c.Supported {
		log.Warn("interleave capabilities given for unsupported memory mode %d", mode)
	}

	if alignment > 0xff {
		alignment = 0xff
	}
	c.AlignmentExponent = uint8(alignment)
	c.Formats = nil

	for i := 0; i < count; i++ {
		v := r.U32()
		formats, err := nvm.DecodeInterleaveFormats(v)
		if err != nil {
			return pcatError("interleave format #%d: %v", i, err)
		}
		c.Formats = append(c.Formats, formats...)
	}

	return r.Err()
}
