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

// Package sysfs discovers the NVDIMMs of a host and the firmware tables
// describing them from sysfs.
package sysfs

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

// Our logger instance.
var log = logger.Get("sysfs")

const (
	// sysfs NVDIMM bus subdirectory path
	sysfsNdBusPath = "bus/nd/devices"
	// sysfs ACPI table subdirectory path
	sysfsAcpiTablesPath = "firmware/acpi/tables"
	// name of the platform capabilities table
	pcatTable = "PCAT"

	// vendor ID of manageable DIMMs
	intelVendorID = 0x8089
)

// sysPath returns the sysfs mount point under the host root directory.
func sysPath(root string) string {
	return filepath.Join("/", root, "sys")
}

// ReadPCAT reads the platform capabilities table from the sysfs of the
// host mounted at root. It returns nvm.ErrNotFound if the BIOS does not
// publish one.
func ReadPCAT(root string) ([]byte, error) {
	entry := filepath.Join(sysPath(root), sysfsAcpiTablesPath, pcatTable)
	data, err := os.ReadFile(entry)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", nvm.ErrNotFound, entry)
		}
		return nil, sysfsError(entry, "failed to read: %v", err)
	}
	if len(data) < 4 || string(data[:4]) != pcatTable {
		return nil, fmt.Errorf("%w: %s: signature mismatch", nvm.ErrBadPcat, entry)
	}
	return data, nil
}

// DiscoverNmem discovers the NVDIMMs registered on the nd bus of the host
// mounted at root, ordered by handle. Capacities are not available from
// sysfs and are left zero.
func DiscoverNmem(root string) ([]nvm.DeviceDiscovery, error) {
	path := sysPath(root)
	entries, err := filepath.Glob(filepath.Join(path, sysfsNdBusPath, "nmem*"))
	if err != nil {
		return nil, sysfsError(path, "failed to list nmem devices: %v", err)
	}

	devices := make([]nvm.DeviceDiscovery, 0, len(entries))
	for _, entry := range entries {
		d, err := discoverNmem(entry)
		if err != nil {
			return nil, err
		}
		devices = append(devices, *d)
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Handle < devices[j].Handle
	})

	log.Debug("discovered %d NVDIMMs under %s", len(devices), path)

	return devices, nil
}

func discoverNmem(path string) (*nvm.DeviceDiscovery, error) {
	var (
		handle, vendor, device, serial uint64
		flags, security                string
		d                              = &nvm.DeviceDiscovery{}
	)

	if _, err := readSysfsEntry(path, "nfit/handle", &handle); err != nil {
		return nil, sysfsError(path, "can't read handle: %v", err)
	}
	if _, err := readSysfsEntry(path, "nfit/id", &d.UID); err != nil {
		return nil, sysfsError(path, "can't read id: %v", err)
	}
	if _, err := readSysfsEntry(path, "nfit/vendor", &vendor); err != nil {
		return nil, sysfsError(path, "can't read vendor: %v", err)
	}
	if _, err := readSysfsEntry(path, "nfit/serial", &serial); err != nil {
		return nil, sysfsError(path, "can't read serial: %v", err)
	}
	readSysfsEntry(path, "nfit/device", &device)
	readSysfsEntry(path, "nfit/flags", &flags)
	readSysfsEntry(path, "security", &security)

	d.Handle = nvm.DeviceHandle(handle)
	d.SocketID = d.Handle.Socket()
	d.MemoryControllerID = d.Handle.MemoryController()
	d.ChannelID = d.Handle.Channel()
	d.ChannelPos = d.Handle.ChannelPos()
	binary.BigEndian.PutUint16(d.Manufacturer[:], uint16(vendor))
	binary.BigEndian.PutUint32(d.SerialNumber[:], uint32(serial))
	d.ModelNumber = fmt.Sprintf("0x%04x", device)

	if vendor == intelVendorID {
		d.Manageability = nvm.Manageable
	} else {
		d.Manageability = nvm.Unmanageable
	}

	d.Health = healthFromFlags(strings.Fields(flags))
	d.LockState = lockStateFromSecurity(security)
	if d.LockState != nvm.LockStateNotSupported && d.LockState != nvm.LockStateUnknown {
		d.Security = nvm.SecurityCapabilities{
			PassphraseCapable:     true,
			UnlockDeviceCapable:   true,
			EraseCryptoCapable:    true,
			EraseOverwriteCapable: true,
		}
	}

	return d, nil
}

func healthFromFlags(flags []string) nvm.DeviceHealth {
	health := nvm.DeviceHealthNormal
	for _, f := range flags {
		switch f {
		case "map_fail":
			return nvm.DeviceHealthFatal
		case "save_fail", "restore_fail", "flush_fail":
			health = nvm.DeviceHealthCritical
		case "not_armed", "smart_event":
			if health < nvm.DeviceHealthNonCritical {
				health = nvm.DeviceHealthNonCritical
			}
		}
	}
	return health
}

func lockStateFromSecurity(security string) nvm.LockState {
	switch security {
	case "":
		return nvm.LockStateNotSupported
	case "disabled":
		return nvm.LockStateDisabled
	case "unlocked":
		return nvm.LockStateUnlocked
	case "locked":
		return nvm.LockStateLocked
	case "frozen":
		return nvm.LockStateFrozen
	}
	return nvm.LockStateUnknown
}

// readSysfsEntry reads and parses a single sysfs entry. It returns the raw
// contents of the entry with surrounding whitespace trimmed.
func readSysfsEntry(base, entry string, ptr interface{}) (string, error) {
	path := filepath.Join(base, entry)

	blob, err := os.ReadFile(path)
	if err != nil {
		return "", sysfsError(path, "failed to read sysfs entry: %v", err)
	}
	data := strings.TrimSpace(string(blob))

	switch ptr := ptr.(type) {
	case nil:
	case *string:
		*ptr = data
	case *uint64:
		v, err := strconv.ParseUint(data, 0, 64)
		if err != nil {
			return "", sysfsError(path, "invalid entry '%s': %v", data, err)
		}
		*ptr = v
	case *int:
		v, err := strconv.ParseInt(data, 0, 0)
		if err != nil {
			return "", sysfsError(path, "invalid entry '%s': %v", data, err)
		}
		*ptr = int(v)
	default:
		return "", sysfsError(path, "unsupported sysfs entry type %T", ptr)
	}

	return data, nil
}

func sysfsError(path, format string, args ...interface{}) error {
	return fmt.Errorf("sysfs %s: "+format, append([]interface{}{path}, args...)...)
}
