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

// Package pcd encodes and decodes the platform config data a DIMM exchanges
// with the BIOS, and converts between config goals and its tables.
package pcd

import (
	"fmt"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/table"
)

// Table signatures.
const (
	Signature        = "DMHD"
	CurrentSignature = "CCUR"
	InputSignature   = "CIN_"
	OutputSignature  = "COUT"
)

// Fixed table sizes, extension tables excluded.
const (
	HeaderSize        = table.HeaderSize + 6*4
	CurrentConfigSize = table.HeaderSize + 20
	ConfigInputSize   = table.HeaderSize + 12
	ConfigOutputSize  = table.HeaderSize + 12
)

var log = logger.Get("pcd")

func pcdError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: "+format, append([]interface{}{nvm.ErrCorrupt}, args...)...)
}

// PlatformConfigData is the complete platform config data of a DIMM. Any
// of the sub-tables may be absent.
type PlatformConfigData struct {
	Header  table.Header
	Current *CurrentConfig
	Input   *ConfigInput
	Output  *ConfigOutput
}

// Current config status codes reported by the BIOS.
const (
	CurrentStatusUnknown uint16 = iota
	CurrentStatusSuccess
	_
	CurrentStatusDimmsNotFound
	CurrentStatusInterleaveNotFound
	CurrentStatusUnconfigured
	CurrentStatusErrorUsingOld
	CurrentStatusErrorUnmapped
	CurrentStatusBadInputChecksum
	CurrentStatusBadInputRevision
	CurrentStatusBadCurrentChecksum
)

// CurrentConfig is the configuration the BIOS applied at the last boot.
type CurrentConfig struct {
	Header          table.Header
	Status          uint16
	MappedMemory    uint64
	MappedAppDirect uint64
	Extensions      []Extension
}

// ConfigInput is a configuration request to the BIOS.
type ConfigInput struct {
	Header     table.Header
	Sequence   uint32
	Extensions []Extension
}

// Config output validation status codes.
const (
	OutputStatusUnknown uint8 = iota
	OutputStatusSuccess
	OutputStatusBootErrors
	OutputStatusRuntimeInProgress
	OutputStatusRuntimeOK
	OutputStatusRuntimeErrors
)

// ConfigOutput is the response of the BIOS to a configuration request.
type ConfigOutput struct {
	Header           table.Header
	Sequence         uint32
	ValidationStatus uint8
	Extensions       []Extension
}

// NewPlatformConfigData returns platform config data with the given
// sub-tables and a default header.
func NewPlatformConfigData(current *CurrentConfig, input *ConfigInput, output *ConfigOutput) *PlatformConfigData {
	return &PlatformConfigData{
		Header:  table.NewHeader(Signature),
		Current: current,
		Input:   input,
		Output:  output,
	}
}

// NewConfigInput returns a config input request with the given sequence
// number and extension tables.
func NewConfigInput(seq uint32, exts ...Extension) *ConfigInput {
	return &ConfigInput{
		Header:     table.NewHeader(InputSignature),
		Sequence:   seq,
		Extensions: exts,
	}
}

// LastOutputSequence returns the sequence number of the last request the
// BIOS responded to, or 0 if it has not responded to any.
func (p *PlatformConfigData) LastOutputSequence() uint32 {
	if p.Output == nil {
		return 0
	}
	return p.Output.Sequence
}

// Parse decodes platform config data. The header of the container is
// verified first, followed by the current config, config input and config
// output sub-tables. Every violation is reported as nvm.ErrCorrupt.
func Parse(buf []byte) (*PlatformConfigData, error) {
	if len(buf) < HeaderSize {
		return nil, pcdError("platform config data too short (%d bytes)", len(buf))
	}

	h, err := table.DecodeHeader(buf)
	if err != nil {
		return nil, err
	}
	if err := h.Check(Signature, HeaderSize, len(buf)); err != nil {
		return nil, err
	}
	// The BIOS does not maintain the container checksum.
	if err := table.VerifyChecksum(buf[:h.Length]); err != nil {
		log.Debug("ignoring %s checksum mismatch: %v", Signature, err)
	}

	r := table.NewReader(buf)
	r.Seek(table.HeaderSize)
	var sizes, offsets [3]uint32
	for i := range sizes {
		sizes[i] = r.U32()
		offsets[i] = r.U32()
	}
	if err := r.Err(); err != nil {
		return nil, err
	}

	p := &PlatformConfigData{Header: h}

	sub := func(i int, name string, min int) ([]byte, error) {
		size, off := int(sizes[i]), int(offsets[i])
		if size == 0 {
			return nil, nil
		}
		if size < min {
			return nil, pcdError("%s size %d shorter than %d", name, size, min)
		}
		if off < HeaderSize || off > len(buf) || size > len(buf)-off {
			return nil, pcdError("%s at offset %d, size %d outside of %d bytes", name, off, size, len(buf))
		}
		return buf[off : off+size], nil
	}

	if b, err := sub(0, CurrentSignature, CurrentConfigSize); err != nil {
		return nil, err
	} else if b != nil {
		if p.Current, err = ParseCurrentConfig(b); err != nil {
			return nil, err
		}
		if err := checkLength(CurrentSignature, p.Current.Header, b); err != nil {
			return nil, err
		}
	}

	if b, err := sub(1, InputSignature, ConfigInputSize); err != nil {
		return nil, err
	} else if b != nil {
		if p.Input, err = ParseConfigInput(b); err != nil {
			return nil, err
		}
		if err := checkLength(InputSignature, p.Input.Header, b); err != nil {
			return nil, err
		}
	}

	if b, err := sub(2, OutputSignature, ConfigOutputSize); err != nil {
		return nil, err
	} else if b != nil {
		if p.Output, err = ParseConfigOutput(b); err != nil {
			return nil, err
		}
		if err := checkLength(OutputSignature, p.Output.Header, b); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// checkLength verifies that the size declared for a sub-table in the
// container header equals the length in the sub-table's own header.
func checkLength(name string, h table.Header, b []byte) error {
	if int(h.Length) != len(b) {
		return pcdError("%s size %d does not match its length %d", name, len(b), h.Length)
	}
	return nil
}

// decodeSubTable verifies the header and checksum of a sub-table and
// returns its header and the bytes it covers.
func decodeSubTable(buf []byte, signature string, min int) (table.Header, []byte, error) {
	h, err := table.DecodeHeader(buf)
	if err != nil {
		return table.Header{}, nil, err
	}
	if err := h.Check(signature, min, len(buf)); err != nil {
		return table.Header{}, nil, err
	}
	buf = buf[:h.Length]
	if err := table.VerifyChecksum(buf); err != nil {
		return table.Header{}, nil, fmt.Errorf("%s: %w", signature, err)
	}
	return h, buf, nil
}

// ParseCurrentConfig decodes a current config sub-table.
func ParseCurrentConfig(buf []byte) (*CurrentConfig, error) {
	h, buf, err := decodeSubTable(buf, CurrentSignature, CurrentConfigSize)
	if err != nil {
		return nil, err
	}

	r := table.NewReader(buf)
	r.Seek(table.HeaderSize)
	c := &CurrentConfig{Header: h}
	c.Status = r.U16()
	r.Skip(2)
	c.MappedMemory = r.U64()
	c.MappedAppDirect = r.U64()
	if err := r.Err(); err != nil {
		return nil, err
	}

	if c.Extensions, err = decodeExtensions(buf, CurrentConfigSize); err != nil {
		return nil, fmt.Errorf("%s: %w", CurrentSignature, err)
	}
	return c, nil
}

// ParseConfigInput decodes a config input sub-table.
func ParseConfigInput(buf []byte) (*ConfigInput, error) {
	h, buf, err := decodeSubTable(buf, InputSignature, ConfigInputSize)
	if err != nil {
		return nil, err
	}

	r := table.NewReader(buf)
	r.Seek(table.HeaderSize)
	c := &ConfigInput{Header: h}
	c.Sequence = r.U32()
	if err := r.Err(); err != nil {
		return nil, err
	}

	if c.Extensions, err = decodeExtensions(buf, ConfigInputSize); err != nil {
		return nil, fmt.Errorf("%s: %w", InputSignature, err)
	}
	return c, nil
}

// ParseConfigOutput decodes a config output sub-table.
func ParseConfigOutput(buf []byte) (*ConfigOutput, error) {
	h, buf, err := decodeSubTable(buf, OutputSignature, ConfigOutputSize)
	if err != nil {
		return nil, err
	}

	r := table.NewReader(buf)
	r.Seek(table.HeaderSize)
	c := &ConfigOutput{Header: h}
	c.Sequence = r.U32()
	c.ValidationStatus = r.U8()
	if err := r.Err(); err != nil {
		return nil, err
	}

	if c.Extensions, err = decodeExtensions(buf, ConfigOutputSize); err != nil {
		return nil, fmt.Errorf("%s: %w", OutputSignature, err)
	}
	return c, nil
}

func putExtensions(w *table.Writer, exts []Extension) {
	for _, e := range exts {
		e.encode(w)
	}
}

// Bytes encodes the current config with its length and checksum set.
func (c *CurrentConfig) Bytes() []byte {
	w := table.NewWriter(CurrentConfigSize)
	c.Header.Put(w)
	w.U16(c.Status)
	w.Zero(2)
	w.U64(c.MappedMemory)
	w.U64(c.MappedAppDirect)
	putExtensions(w, c.Extensions)
	return table.Seal(w, 0)
}

// Bytes encodes the config input with its length and checksum set.
func (c *ConfigInput) Bytes() []byte {
	w := table.NewWriter(ConfigInputSize)
	c.Header.Put(w)
	w.U32(c.Sequence)
	w.Zero(8)
	putExtensions(w, c.Extensions)
	return table.Seal(w, 0)
}

// Bytes encodes the config output with its length and checksum set.
func (c *ConfigOutput) Bytes() []byte {
	w := table.NewWriter(ConfigOutputSize)
	c.Header.Put(w)
	w.U32(c.Sequence)
	w.U8(c.ValidationStatus)
	w.Zero(7)
	putExtensions(w, c.Extensions)
	return table.Seal(w, 0)
}

// Bytes encodes the platform config data. The sub-tables are laid out
// after the container header in current, input, output order.
func (p *PlatformConfigData) Bytes() ([]byte, error) {
	var subs [3][]byte
	if p.Current != nil {
		subs[0] = p.Current.Bytes()
	}
	if p.Input != nil {
		subs[1] = p.Input.Bytes()
	}
	if p.Output != nil {
		subs[2] = p.Output.Bytes()
	}

	size := HeaderSize
	for _, s := range subs {
		size += len(s)
	}
	if uint64(size) > uint64(^uint32(0)) {
		return nil, pcdError("platform config data of %d bytes too large", size)
	}

	w := table.NewWriter(size)
	p.Header.Put(w)
	off := HeaderSize
	for _, s := range subs {
		if len(s) == 0 {
			w.U32(0)
			w.U32(0)
			continue
		}
		w.U32(uint32(len(s)))
		w.U32(uint32(off))
		off += len(s)
	}
	// The container length and checksum cover the container header only.
	table.Seal(w, 0)

	for _, s := range subs {
		w.Raw(s)
	}
	return w.Bytes(), nil
}

// Interleaves returns the interleave info tables of a sub-table.
func interleaves(exts []Extension) []*InterleaveInfo {
	var result []*InterleaveInfo
	for _, e := range exts {
		if i, ok := e.(*InterleaveInfo); ok {
			result = append(result, i)
		}
	}
	return result
}

// Interleaves returns the interleave sets of the current config.
func (c *CurrentConfig) Interleaves() []*InterleaveInfo { return interleaves(c.Extensions) }

// Interleaves returns the interleave sets of the config input.
func (c *ConfigInput) Interleaves() []*InterleaveInfo { return interleaves(c.Extensions) }
