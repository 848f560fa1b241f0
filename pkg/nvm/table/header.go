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

package table

const (
	// SignatureLen is the size of a table signature.
	SignatureLen = 4
	// HeaderSize is the size of the common table header.
	HeaderSize = 36
	// PcatHeaderSize is the size of the PCAT header, which carries four
	// reserved bytes after the common fields.
	PcatHeaderSize = HeaderSize + 4
)

// Header is the common header of PCAT and PCD tables.
type Header struct {
	Signature       string
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           string
	OEMTableID      string
	OEMRevision     uint32
	CreatorID       [4]byte
	CreatorRevision uint32
}

// NewHeader returns a header with the given signature and the default
// OEM identification used by the management software.
func NewHeader(signature string) Header {
	return Header{
		Signature:   signature,
		Revision:    1,
		OEMID:       "INTEL ",
		OEMTableID:  "PURLEY  ",
		OEMRevision: 2,
		CreatorID:   [4]byte{'I', 'N', 'T', 'L'},
	}
}

// DecodeHeader decodes the common header at the start of buf.
func DecodeHeader(buf []byte) (Header, error) {
	var h Header

	r := NewReader(buf)
	h.Signature = string(r.next(SignatureLen))
	h.Length = r.U32()
	h.Revision = r.U8()
	h.Checksum = r.U8()
	h.OEMID = r.String(6)
	h.OEMTableID = r.String(8)
	h.OEMRevision = r.U32()
	r.Bytes(h.CreatorID[:], 4)
	h.CreatorRevision = r.U32()

	if err := r.Err(); err != nil {
		return Header{}, tableError("short header (%d bytes)", len(buf))
	}
	return h, nil
}

// Check verifies the signature of the header and that its declared length
// covers at least min bytes and no more than size bytes.
func (h *Header) Check(signature string, min, size int) error {
	if h.Signature != signature {
		return tableError("signature %q, expected %q", h.Signature, signature)
	}
	if int(h.Length) < min {
		return tableError("%s length %d shorter than %d", signature, h.Length, min)
	}
	if int(h.Length) > size {
		return tableError("%s length %d exceeds %d available bytes", signature, h.Length, size)
	}
	return nil
}

// Put appends the header to w. The checksum is written as zero.
func (h *Header) Put(w *Writer) {
	w.String(h.Signature, SignatureLen)
	w.U32(h.Length)
	w.U8(h.Revision)
	w.U8(0)
	w.String(h.OEMID, 6)
	w.String(h.OEMTableID, 8)
	w.U32(h.OEMRevision)
	w.Raw(h.CreatorID[:])
	w.U32(h.CreatorRevision)
}

// Seal sets the length field of the table starting at start and ending at
// the current end of w, then computes its checksum.
func Seal(w *Writer, start int) []byte {
	table := w.Bytes()[start:]
	w.PutU32At(start+SignatureLen, uint32(len(table)))
	SetChecksum(table, ChecksumOffset)
	return table
}
