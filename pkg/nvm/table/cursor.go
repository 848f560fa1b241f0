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

import (
	"bytes"
	"encoding/binary"
)

var le = binary.LittleEndian

// Reader is a little-endian cursor over a byte slice. The first read past
// the end of the slice sets a sticky error and every later read returns
// zero values.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader positioned at the start of buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Offset returns the current position.
func (r *Reader) Offset() int { return r.off }

// Len returns the size of the underlying buffer.
func (r *Reader) Len() int { return len(r.buf) }

// Err returns the first error encountered by the reader.
func (r *Reader) Err() error { return r.err }

// Seek moves the cursor to an absolute offset.
func (r *Reader) Seek(off int) {
	if r.err != nil {
		return
	}
	if off < 0 || off > len(r.buf) {
		r.err = tableError("seek to %d past end of %d byte buffer", off, len(r.buf))
		return
	}
	r.off = off
}

// Skip advances the cursor by n bytes.
func (r *Reader) Skip(n int) {
	r.next(n)
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || r.off+n > len(r.buf) {
		r.err = tableError("read of %d bytes at offset %d past end of %d byte buffer",
			n, r.off, len(r.buf))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) U8() uint8 {
	if b := r.next(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) U16() uint16 {
	if b := r.next(2); b != nil {
		return le.Uint16(b)
	}
	return 0
}

func (r *Reader) U32() uint32 {
	if b := r.next(4); b != nil {
		return le.Uint32(b)
	}
	return 0
}

func (r *Reader) U64() uint64 {
	if b := r.next(8); b != nil {
		return le.Uint64(b)
	}
	return 0
}

// Bytes copies n bytes into dst, which must be at least n bytes long.
func (r *Reader) Bytes(dst []byte, n int) {
	if b := r.next(n); b != nil {
		copy(dst, b)
	}
}

// String reads an n byte fixed width field, trimming trailing NULs.
func (r *Reader) String(n int) string {
	if b := r.next(n); b != nil {
		return string(bytes.TrimRight(b, "\x00"))
	}
	return ""
}

// Writer is a little-endian append-only encoder.
type Writer struct {
	buf []byte
}

// NewWriter returns a Writer with room for size bytes.
func NewWriter(size int) *Writer {
	return &Writer{buf: make([]byte, 0, size)}
}

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return len(w.buf) }

// Bytes returns the encoded data.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) U8(v uint8) { w.buf = append(w.buf, v) }

func (w *Writer) U16(v uint16) { w.buf = le.AppendUint16(w.buf, v) }

func (w *Writer) U32(v uint32) { w.buf = le.AppendUint32(w.buf, v) }

func (w *Writer) U64(v uint64) { w.buf = le.AppendUint64(w.buf, v) }

// Zero appends n zero bytes.
func (w *Writer) Zero(n int) {
	w.buf = append(w.buf, make([]byte, n)...)
}

// Raw appends b as is.
func (w *Writer) Raw(b []byte) { w.buf = append(w.buf, b...) }

// String appends s as an n byte fixed width field, padded with NULs and
// truncated if longer than n.
func (w *Writer) String(s string, n int) {
	field := make([]byte, n)
	copy(field, s)
	w.buf = append(w.buf, field...)
}

// PutU16At overwrites the 16-bit value at off.
func (w *Writer) PutU16At(off int, v uint16) { le.PutUint16(w.buf[off:], v) }

// PutU32At overwrites the 32-bit value at off.
func (w *Writer) PutU32At(off int, v uint32) { le.PutUint32(w.buf[off:], v) }
