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

package capabilities

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/nvm/events"
)

// CheckSkuViolation checks whether a DIMM is used beyond what its license
// allows. Every check runs, each violation is logged and reported as an
// event, and the first violation found is returned. The namespaces are
// those that use capacity of the DIMM.
func CheckSkuViolation(features nvm.NvmFeatureSet, device *nvm.DeviceDiscovery,
	capacities nvm.DeviceCapacities, namespaces []nvm.Namespace, ev *events.Log) error {
	if !features.GetDeviceCapacity {
		return fmt.Errorf("%w: device capacities unavailable", nvm.ErrNotSupported)
	}

	var result *multierror.Error

	violation := func(format string, args ...interface{}) {
		msg := fmt.Sprintf(format, args...)
		ev.Emit(events.SkuViolation, device.UID, "%s", msg)
		result = multierror.Append(result, fmt.Errorf("%w: DIMM %s: %s",
			nvm.ErrConfigNotSupported, device.Handle, msg))
	}

	if capacities.InaccessibleCapacity > 0 {
		violation("%d bytes of capacity are inaccessible", capacities.InaccessibleCapacity)
	}
	if !features.StorageMode && hasNamespaces(namespaces, nvm.NamespaceTypeStorage) {
		violation("an unsupported storage namespace exists")
	}
	if !features.AppDirectMode && hasNamespaces(namespaces, nvm.NamespaceTypeAppDirect) {
		violation("an unsupported app direct namespace exists")
	}

	if result == nil {
		return nil
	}
	for _, err := range result.Errors[1:] {
		log.Debug("also in SKU violation: %v", err)
	}
	return result.Errors[0]
}

func hasNamespaces(namespaces []nvm.Namespace, t nvm.NamespaceType) bool {
	for _, ns := range namespaces {
		if ns.Type == t {
			return true
		}
	}
	return false
}
