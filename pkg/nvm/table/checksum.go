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

// Package table implements the primitives shared by the BIOS table codecs:
// fixed header decoding, byte-sum checksums, bounds-checked little-endian
// cursors and safe extension table iteration.
package table

// ChecksumOffset is the offset of the checksum byte in every table header.
const ChecksumOffset = 9

// Checksum returns the value which, stored at offset skip, makes the byte
// sum of buf zero modulo 256. The byte at skip is not included in the sum.
func Checksum(buf []byte, skip int) uint8 {
	var sum uint8
	for i, b := range buf {
		if i != skip {
			sum += b
		}
	}
	return (0xff - sum) + 1
}

// SetChecksum computes and stores the checksum of buf at offset.
func SetChecksum(buf []byte, offset int) {
	if offset < 0 || offset >= len(buf) {
		return
	}
	buf[offset] = Checksum(buf, offset)
}

// VerifyChecksum checks that the byte sum of buf is zero modulo 256.
func VerifyChecksum(buf []byte) error {
	var sum uint8
	for _, b := range buf {
		sum += b
	}
	if sum != 0 {
		return tableError("checksum mismatch (sum 0x%02x)", sum)
	}
	return nil
}
