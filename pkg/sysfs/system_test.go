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

package sysfs_test

import (
	"os"
	"path/filepath"

	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/sysfs"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type nmem struct {
	name     string
	handle   string
	id       string
	vendor   string
	serial   string
	flags    string
	security string
}

func writeEntry(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0o755)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content+"\n"), 0o644)).To(Succeed())
}

func sampleSysfs(root string, nmems ...nmem) {
	for _, n := range nmems {
		dir := filepath.Join(root, "sys/bus/nd/devices", n.name)
		writeEntry(filepath.Join(dir, "nfit/handle"), n.handle)
		writeEntry(filepath.Join(dir, "nfit/id"), n.id)
		writeEntry(filepath.Join(dir, "nfit/vendor"), n.vendor)
		writeEntry(filepath.Join(dir, "nfit/serial"), n.serial)
		writeEntry(filepath.Join(dir, "nfit/device"), "0x097a")
		writeEntry(filepath.Join(dir, "nfit/flags"), n.flags)
		if n.security != "" {
			writeEntry(filepath.Join(dir, "security"), n.security)
		}
	}
}

var _ = Describe("NVDIMM discovery", func() {
	var root string

	BeforeEach(func() {
		root = GinkgoT().TempDir()
		sampleSysfs(root,
			nmem{"nmem1", "0x1001", "8089-a2-1748-00000002", "0x8089", "0x00000002", "", "locked"},
			nmem{"nmem0", "0x0001", "8089-a2-1748-00000001", "0x8089", "0x00000001", "", "disabled"},
			nmem{"nmem2", "0x1100", "1234-01-0000-00000003", "0x1234", "0x00000003", "save_fail", ""},
		)
	})

	It("discovers all nmem devices ordered by handle", func() {
		devices, err := sysfs.DiscoverNmem(root)
		Expect(err).To(BeNil())
		Expect(devices).To(HaveLen(3))
		Expect(devices[0].UID).To(Equal("8089-a2-1748-00000001"))
		Expect(devices[1].UID).To(Equal("8089-a2-1748-00000002"))
		Expect(devices[2].UID).To(Equal("1234-01-0000-00000003"))
	})

	It("decodes the handle into the location of the DIMM", func() {
		devices, err := sysfs.DiscoverNmem(root)
		Expect(err).To(BeNil())
		d := devices[2]
		Expect(d.Handle).To(Equal(nvm.NewDeviceHandle(1, 1, 0, 0)))
		Expect(d.SocketID).To(Equal(uint16(1)))
		Expect(d.MemoryControllerID).To(Equal(uint16(1)))
		Expect(d.ChannelID).To(Equal(uint16(0)))
		Expect(d.SerialNumber).To(Equal([4]byte{0, 0, 0, 3}))
		Expect(d.Manufacturer).To(Equal([2]byte{0x12, 0x34}))
	})

	DescribeTable("device state",
		func(idx int, manageability nvm.Manageability, lock nvm.LockState, health nvm.DeviceHealth, passphrase bool) {
			devices, err := sysfs.DiscoverNmem(root)
			Expect(err).To(BeNil())
			d := devices[idx]
			Expect(d.Manageability).To(Equal(manageability))
			Expect(d.LockState).To(Equal(lock))
			Expect(d.Health).To(Equal(health))
			Expect(d.Security.PassphraseCapable).To(Equal(passphrase))
		},
		Entry("security disabled", 0, nvm.Manageable, nvm.LockStateDisabled, nvm.DeviceHealthNormal, true),
		Entry("locked", 1, nvm.Manageable, nvm.LockStateLocked, nvm.DeviceHealthNormal, true),
		Entry("foreign with failed save", 2, nvm.Unmanageable, nvm.LockStateNotSupported, nvm.DeviceHealthCritical, false),
	)

	It("fails on an unreadable handle", func() {
		writeEntry(filepath.Join(root, "sys/bus/nd/devices/nmem0/nfit/handle"), "bogus")
		_, err := sysfs.DiscoverNmem(root)
		Expect(err).ToNot(BeNil())
	})

	It("returns nothing without an nd bus", func() {
		devices, err := sysfs.DiscoverNmem(GinkgoT().TempDir())
		Expect(err).To(BeNil())
		Expect(devices).To(BeEmpty())
	})
})

var _ = Describe("PCAT", func() {
	It("reads the table", func() {
		root := GinkgoT().TempDir()
		writeEntry(filepath.Join(root, "sys/firmware/acpi/tables/PCAT"), "PCAT table")
		data, err := sysfs.ReadPCAT(root)
		Expect(err).To(BeNil())
		Expect(string(data)).To(Equal("PCAT table\n"))
	})

	It("reports a missing table", func() {
		_, err := sysfs.ReadPCAT(GinkgoT().TempDir())
		Expect(err).To(MatchError(nvm.ErrNotFound))
	})

	It("rejects a table with another signature", func() {
		root := GinkgoT().TempDir()
		writeEntry(filepath.Join(root, "sys/firmware/acpi/tables/PCAT"), "NFIT")
		_, err := sysfs.ReadPCAT(root)
		Expect(err).To(MatchError(nvm.ErrBadPcat))
	})
})
