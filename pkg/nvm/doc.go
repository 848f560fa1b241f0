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

// Package nvm holds the domain model shared by the NVDIMM capacity
// management packages: devices and their capacities, platform and
// driver capabilities, the resolved feature set, configuration goals,
// interleave sets and pools.
//
// The binary tables exchanged with the BIOS live in the table, pcat and
// pcd subpackages. Feature negotiation lives in capabilities, goal
// validation in goal, and pool assembly in pool. The manager subpackage
// ties these to a Transport, which is the boundary to the driver and
// firmware.
//
// All capacities are in bytes unless a field or parameter name says
// otherwise. Config goal sizes are in GiB, with SizeAllRemaining as
// the "all remaining capacity" sentinel.
package nvm
