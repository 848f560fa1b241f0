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

// Package goal validates capacity provisioning requests against what the
// platform and the DIMM can provide.
package goal

import (
	"errors"
	"fmt"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
)

var log = logger.Get("goal")

// maxAlignmentExponent is the first exponent whose alignment no longer
// fits in 64 bits.
const maxAlignmentExponent = 64

// Validate checks a config goal for the given DIMM. The checks run in a
// fixed order and the first failing one is returned. A goal that asks for
// a mode which is not available is reported as a ConfigNotSupported event.
// A nil platform is treated as one without mirroring and alignment needs.
func Validate(goal *nvm.ConfigGoal, features nvm.NvmFeatureSet, device *nvm.DeviceDiscovery,
	platform *nvm.PlatformCapabilities, ev *events.Log) error {
	if platform == nil {
		platform = &nvm.PlatformCapabilities{}
	}

	if n := len(goal.AppDirect); n > nvm.MaxAppDirectExtents {
		return fmt.Errorf("%w: %d app direct extents requested, at most %d allowed",
			nvm.ErrBadDeviceConfig, n, nvm.MaxAppDirectExtents)
	}

	if err := validateSupported(goal, features, device, platform); err != nil {
		if errors.Is(err, nvm.ErrConfigNotSupported) {
			ev.Emit(events.ConfigNotSupported, device.UID, "%v", err)
		}
		return err
	}

	if err := validateSize(goal, device); err != nil {
		return err
	}

	return validateAlignment(goal, platform)
}

func validateSupported(goal *nvm.ConfigGoal, features nvm.NvmFeatureSet, device *nvm.DeviceDiscovery,
	platform *nvm.PlatformCapabilities) error {
	if goal.MemorySize > 0 && !(features.MemoryMode && device.Capabilities.MemoryModeCapable) {
		log.Warn("DIMM %s: memory capacity requested but not supported", device.UID)
		return fmt.Errorf("%w: memory mode", nvm.ErrConfigNotSupported)
	}
	if len(goal.AppDirect) > 0 && !(features.AppDirectMode && device.Capabilities.AppDirectModeCapable) {
		log.Warn("DIMM %s: app direct capacity requested but not supported", device.UID)
		return fmt.Errorf("%w: app direct mode", nvm.ErrConfigNotSupported)
	}

	mirrored := goal.MirroredCount()
	if mirrored > 0 && !platform.MirrorSupported {
		log.Error("DIMM %s: mirroring requested but not supported", device.UID)
		return fmt.Errorf("%w: mirroring", nvm.ErrConfigNotSupported)
	}
	if mirrored > 1 {
		return fmt.Errorf("%w: %d mirrored app direct extents, at most one allowed",
			nvm.ErrBadDeviceConfig, mirrored)
	}

	return nil
}

// SizeFromCapacity resolves a requested size in GiB. SizeAllRemaining
// resolves to the remaining capacity, of which a mirrored extent presents
// only half.
func SizeFromCapacity(size, remaining uint64, mirrored bool) uint64 {
	if size != nvm.SizeAllRemaining {
		return size
	}
	size = remaining / nvm.BytesPerGiB
	if mirrored {
		size /= 2
	}
	return size
}

// consume takes the physical capacity of a request out of remaining.
func consume(size uint64, remaining *uint64, mirrored bool) error {
	actual := SizeFromCapacity(size, *remaining, mirrored)
	if mirrored {
		if actual > nvm.MaxSizeGiB/2 {
			return fmt.Errorf("%w: mirrored %d GiB does not fit in 64 bits", nvm.ErrBadSize, actual)
		}
		actual *= 2
	}
	if actual > nvm.MaxSizeGiB {
		return fmt.Errorf("%w: %d GiB does not fit in 64 bits", nvm.ErrBadSize, actual)
	}
	bytes := nvm.GiB(actual)
	if bytes > *remaining {
		return fmt.Errorf("%w: %d GiB exceeds the remaining %d bytes",
			nvm.ErrBadSize, actual, *remaining)
	}
	*remaining -= bytes
	return nil
}

func validateSize(goal *nvm.ConfigGoal, device *nvm.DeviceDiscovery) error {
	remaining := nvm.UsableCapacity(device.Capacity)

	if err := consume(goal.MemorySize, &remaining, false); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	for i, ad := range goal.AppDirect {
		if ad.Size == 0 {
			return fmt.Errorf("app direct %d: %w: empty extent", i+1, nvm.ErrBadSize)
		}
		if err := consume(ad.Size, &remaining, ad.Mirrored); err != nil {
			return fmt.Errorf("app direct %d: %w", i+1, err)
		}
	}

	return nil
}

// ValidateAlignment checks that a size in GiB is a multiple of 2^exponent
// bytes. Zero and SizeAllRemaining are always aligned.
func ValidateAlignment(size uint64, exponent uint8) error {
	if exponent >= maxAlignmentExponent {
		return fmt.Errorf("%w: alignment exponent %d", nvm.ErrUnknown, exponent)
	}
	if size == 0 || size == nvm.SizeAllRemaining {
		return nil
	}
	if nvm.GiB(size)%(uint64(1)<<exponent) != 0 {
		return fmt.Errorf("%w: %d GiB is not a multiple of 2^%d bytes",
			nvm.ErrBadAlignment, size, exponent)
	}
	return nil
}

func validateAlignment(goal *nvm.ConfigGoal, platform *nvm.PlatformCapabilities) error {
	mem := platform.MemoryMode.AlignmentExponent
	ad := platform.AppDirect.AlignmentExponent
	if mem >= maxAlignmentExponent || ad >= maxAlignmentExponent {
		log.Error("bad alignment exponents from the platform, memory: %d, app direct: %d", mem, ad)
		return fmt.Errorf("%w: alignment exponents %d/%d", nvm.ErrUnknown, mem, ad)
	}

	if err := ValidateAlignment(goal.MemorySize, mem); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	for i, ext := range goal.AppDirect {
		if err := ValidateAlignment(ext.Size, ad); err != nil {
			return fmt.Errorf("app direct %d: %w", i+1, err)
		}
	}
	return nil
}
