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

import "fmt"

var (
	ErrCorrupt            = fmt.Errorf("nvm: corrupt table")
	ErrBadPcat            = fmt.Errorf("nvm: invalid platform capabilities table")
	ErrBadDeviceConfig    = fmt.Errorf("nvm: invalid device configuration")
	ErrBadSize            = fmt.Errorf("nvm: invalid size")
	ErrBadAlignment       = fmt.Errorf("nvm: invalid alignment")
	ErrConfigNotSupported = fmt.Errorf("nvm: configuration not supported")
	ErrNotSupported       = fmt.Errorf("nvm: operation not supported")
	ErrNamespacesExist    = fmt.Errorf("nvm: namespaces exist")
	ErrArrayTooSmall      = fmt.Errorf("nvm: array too small")
	ErrBadPoolHealth      = fmt.Errorf("nvm: inconsistent pool topology")
	ErrBadDevice          = fmt.Errorf("nvm: no such device")
	ErrNotFound           = fmt.Errorf("nvm: not found")
	ErrDriverFailed       = fmt.Errorf("nvm: driver failure")
	ErrArsInProgress      = fmt.Errorf("nvm: address range scrub in progress")
	ErrInvalidFormat      = fmt.Errorf("nvm: invalid interleave format")
	ErrInvalidType        = fmt.Errorf("nvm: invalid type")
	ErrUnknown            = fmt.Errorf("nvm: unknown error")
)
