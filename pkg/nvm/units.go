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

import "math"

const (
	// BytesPerGiB is the number of bytes in a GiB.
	BytesPerGiB uint64 = 1 << 30
	// SizeAllRemaining requests all remaining capacity for a goal extent.
	SizeAllRemaining uint64 = math.MaxUint64
	// MaxSizeGiB is the largest GiB size whose byte size fits in 64 bits.
	MaxSizeGiB uint64 = (math.MaxUint64 - 1) >> 30
)

// ReservedCapacity returns the part of the raw capacity that is not usable
// for provisioning, the sub-GiB remainder.
func ReservedCapacity(capacity uint64) uint64 {
	return capacity % BytesPerGiB
}

// UsableCapacity returns the raw capacity rounded down to a whole GiB.
func UsableCapacity(capacity uint64) uint64 {
	return capacity - ReservedCapacity(capacity)
}

// GiB converts a size in GiB to bytes.
func GiB(size uint64) uint64 {
	return size * BytesPerGiB
}
