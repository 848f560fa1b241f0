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

// ExtHeaderSize is the size of an extension table header.
const ExtHeaderSize = 4

// ExtHeader is the header of one extension table.
type ExtHeader struct {
	Type   uint16
	Length uint16
	// Offset is the position of the header in the walked buffer.
	Offset int
}

// Walker iterates over a sequence of extension tables. It stops with an
// error at the first header which does not fit, has zero length, or whose
// table would extend past the end of the walked region. It never reads
// outside of that region.
//
//	w := table.Extensions(buf, start, total)
//	for w.Next() {
//		h := w.Header()
//		...
//	}
//	if err := w.Err(); err != nil {
//		...
//	}
type Walker struct {
	buf   []byte
	off   int
	total int
	cur   ExtHeader
	err   error
}

// Extensions returns a walker over the extension tables in buf between
// offsets start and total.
func Extensions(buf []byte, start, total int) *Walker {
	w := &Walker{buf: buf, off: start, total: total}
	switch {
	case total > len(buf):
		w.err = tableError("extension region end %d past %d byte buffer", total, len(buf))
	case start < 0 || start > total:
		w.err = tableError("extension region start %d outside of [0, %d]", start, total)
	}
	return w
}

// Next advances to the next extension table. It returns false once the
// region is exhausted or an error occurs.
func (w *Walker) Next() bool {
	if w.err != nil || w.off >= w.total {
		return false
	}

	if w.off+ExtHeaderSize > w.total {
		w.err = tableError("truncated extension header at offset %d", w.off)
		return false
	}

	h := ExtHeader{
		Type:   le.Uint16(w.buf[w.off:]),
		Length: le.Uint16(w.buf[w.off+2:]),
		Offset: w.off,
	}

	if h.Length == 0 {
		w.err = tableError("zero length extension table (type %d) at offset %d", h.Type, w.off)
		return false
	}
	if w.off+int(h.Length) > w.total {
		w.err = tableError("extension table (type %d) at offset %d, length %d exceeds %d",
			h.Type, w.off, h.Length, w.total)
		return false
	}

	w.cur = h
	w.off += int(h.Length)
	return true
}

// Header returns the current extension table header.
func (w *Walker) Header() ExtHeader { return w.cur }

// Table returns the bytes of the current extension table.
func (w *Walker) Table() []byte {
	return w.buf[w.cur.Offset : w.cur.Offset+int(w.cur.Length)]
}

// Err returns the error which stopped the walk, if any.
func (w *Walker) Err() error { return w.err }

// Collect walks every extension table and returns their headers.
func Collect(buf []byte, start, total int) ([]ExtHeader, error) {
	var headers []ExtHeader
	w := Extensions(buf, start, total)
	for w.Next() {
		headers = append(headers, w.Header())
	}
	return headers, w.Err()
}
