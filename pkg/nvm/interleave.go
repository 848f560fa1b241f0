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

package nvm

import (
	"encoding/json"
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// InterleaveWays is the number of DIMMs an interleave set stripes across,
// encoded as the single bit the BIOS uses for that way count.
type InterleaveWays uint16

const (
	Ways1  InterleaveWays = 1 << iota
	Ways2
	Ways3
	Ways4
	Ways6
	Ways8
	Ways12
	Ways16
	Ways24

	// WaysMask covers every valid way bit.
	WaysMask InterleaveWays = 0x1ff
)

var waysToCount = map[InterleaveWays]int{
	Ways1: 1, Ways2: 2, Ways3: 3, Ways4: 4, Ways6: 6,
	Ways8: 8, Ways12: 12, Ways16: 16, Ways24: 24,
}

// WaysForCount returns the way bit for the given DIMM count.
func WaysForCount(count int) (InterleaveWays, error) {
	for w, c := range waysToCount {
		if c == count {
			return w, nil
		}
	}
	return 0, fmt.Errorf("%w: unsupported way count %d", ErrInvalidFormat, count)
}

// Count returns the number of DIMMs for a single-bit way value, or 0.
func (w InterleaveWays) Count() int {
	return waysToCount[w]
}

// IsValid returns true if w is exactly one known way bit.
func (w InterleaveWays) IsValid() bool {
	_, ok := waysToCount[w]
	return ok
}

// Split returns one single-bit value for every way bit set in w, lowest first.
func (w InterleaveWays) Split() []InterleaveWays {
	var ways []InterleaveWays
	for bit := 0; bit <= 8; bit++ {
		if w&(1<<bit) != 0 {
			ways = append(ways, InterleaveWays(1<<bit))
		}
	}
	return ways
}

func (w InterleaveWays) String() string {
	if c, ok := waysToCount[w]; ok {
		return strconv.Itoa(c) + "-way"
	}
	return fmt.Sprintf("%%!(nvm:Bad-Ways 0x%x)", uint16(w))
}

// MarshalJSON encodes the ways as a DIMM count.
func (w InterleaveWays) MarshalJSON() ([]byte, error) {
	return json.Marshal(w.Count())
}

// UnmarshalJSON decodes the ways from a DIMM count.
func (w *InterleaveWays) UnmarshalJSON(data []byte) error {
	count := 0
	if err := json.Unmarshal(data, &count); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if count == 0 {
		*w = 0
		return nil
	}
	ways, err := WaysForCount(count)
	if err != nil {
		return err
	}
	*w = ways
	return nil
}

// InterleaveSize is the channel or memory controller interleave granularity.
type InterleaveSize uint8

const (
	Size64B  InterleaveSize = 0x01
	Size128B InterleaveSize = 0x02
	Size256B InterleaveSize = 0x04
	Size4KB  InterleaveSize = 0x40
	Size1GB  InterleaveSize = 0x80
)

var sizeToString = map[InterleaveSize]string{
	Size64B:  "64B",
	Size128B: "128B",
	Size256B: "256B",
	Size4KB:  "4KB",
	Size1GB:  "1GB",
}

// IsValid returns true if s is a known interleave size.
func (s InterleaveSize) IsValid() bool {
	_, ok := sizeToString[s]
	return ok
}

func (s InterleaveSize) String() string {
	if str, ok := sizeToString[s]; ok {
		return str
	}
	return fmt.Sprintf("%%!(nvm:Bad-Size 0x%x)", uint8(s))
}

// ParseInterleaveSize parses a size name such as "4KB".
func ParseInterleaveSize(str string) (InterleaveSize, error) {
	for s, name := range sizeToString {
		if strings.EqualFold(name, str) {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: interleave size %q", ErrInvalidFormat, str)
}

// MarshalJSON encodes the size by name.
func (s InterleaveSize) MarshalJSON() ([]byte, error) {
	if s == 0 {
		return json.Marshal("")
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes the size from its name.
func (s *InterleaveSize) UnmarshalJSON(data []byte) error {
	str := ""
	if err := json.Unmarshal(data, &str); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFormat, err)
	}
	if str == "" {
		*s = 0
		return nil
	}
	size, err := ParseInterleaveSize(str)
	if err != nil {
		return err
	}
	*s = size
	return nil
}

// InterleaveFormat describes how an interleave set is striped.
type InterleaveFormat struct {
	Ways        InterleaveWays `json:"ways"`
	Channel     InterleaveSize `json:"channel"`
	IMC         InterleaveSize `json:"imc"`
	Recommended bool           `json:"recommended,omitempty"`
}

const (
	formatChannelMask = 0xff
	formatIMCShift    = 8
	formatIMCMask     = 0xff
	formatWaysShift   = 16
	formatRecommended = 1 << 31
)

// Encode packs the format into its 32-bit BIOS representation.
func (f InterleaveFormat) Encode() uint32 {
	v := uint32(f.Channel) |
		uint32(f.IMC)<<formatIMCShift |
		(uint32(f.Ways)&uint32(WaysMask))<<formatWaysShift
	if f.Recommended {
		v |= formatRecommended
	}
	return v
}

// DecodeInterleaveFormat unpacks a 32-bit BIOS interleave format. The ways
// field must hold exactly one way bit and both sizes must be known.
func DecodeInterleaveFormat(v uint32) (InterleaveFormat, error) {
	f, ways := decodeFormat(v)
	if bits.OnesCount16(uint16(ways)) != 1 {
		return InterleaveFormat{}, fmt.Errorf("%w: ways 0x%x in 0x%08x", ErrInvalidFormat, uint16(ways), v)
	}
	f.Ways = ways
	if err := f.Validate(); err != nil {
		return InterleaveFormat{}, err
	}
	return f, nil
}

// DecodeInterleaveFormats unpacks a 32-bit BIOS interleave format whose
// ways field may carry several way bits, returning one format per bit.
func DecodeInterleaveFormats(v uint32) ([]InterleaveFormat, error) {
	f, ways := decodeFormat(v)
	var formats []InterleaveFormat
	for _, w := range ways.Split() {
		f.Ways = w
		if err := f.Validate(); err != nil {
			return nil, err
		}
		formats = append(formats, f)
	}
	return formats, nil
}

func decodeFormat(v uint32) (InterleaveFormat, InterleaveWays) {
	return InterleaveFormat{
		Channel:     InterleaveSize(v & formatChannelMask),
		IMC:         InterleaveSize((v >> formatIMCShift) & formatIMCMask),
		Recommended: v&formatRecommended != 0,
	}, InterleaveWays(v>>formatWaysShift) & WaysMask
}

// Validate checks that every field of the format is a known value.
func (f InterleaveFormat) Validate() error {
	if !f.Ways.IsValid() {
		return fmt.Errorf("%w: ways %s", ErrInvalidFormat, f.Ways)
	}
	if !f.Channel.IsValid() {
		return fmt.Errorf("%w: channel size %s", ErrInvalidFormat, f.Channel)
	}
	if !f.IMC.IsValid() {
		return fmt.Errorf("%w: imc size %s", ErrInvalidFormat, f.IMC)
	}
	return nil
}

func (f InterleaveFormat) String() string {
	s := fmt.Sprintf("%s channel:%s imc:%s", f.Ways, f.Channel, f.IMC)
	if f.Recommended {
		s += " (recommended)"
	}
	return s
}
