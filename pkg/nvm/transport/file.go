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

package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
	"sigs.k8s.io/yaml"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
	"github.com/intel/nvm-capacity/pkg/sysfs"
)

var log = logger.Get("transport")

const (
	// TopologyFile describes the driver, the DIMMs and the namespaces.
	TopologyFile = "topology.yaml"
	// PcatFile holds the PCAT, optionally xz compressed.
	PcatFile = "pcat.bin"
	// PcdDir holds the platform config data of each DIMM.
	PcdDir = "pcd"

	xzSuffix = ".xz"
	filePerm = 0o644
	dirPerm  = 0o755
)

// Topology is the contents of the topology file.
type Topology struct {
	Driver     nvm.DriverFeatureFlags `json:"driver"`
	Devices    []nvm.DeviceDiscovery  `json:"devices,omitempty"`
	Capacities []nvm.DeviceCapacities `json:"capacities,omitempty"`
	Namespaces []nvm.Namespace        `json:"namespaces,omitempty"`
}

// File is a transport backed by a directory of captured tables. Platform
// config data written through it is stored uncompressed.
type File struct {
	dir       string
	sysfsRoot string
}

// FileOption is an option for a File transport.
type FileOption func(*File)

// WithSysfs makes the transport read the PCAT and, in the absence of
// devices in the topology file, the DIMMs from the sysfs under root.
func WithSysfs(root string) FileOption {
	return func(f *File) {
		f.sysfsRoot = root
	}
}

// NewFile returns a transport rooted at dir.
func NewFile(dir string, options ...FileOption) *File {
	f := &File{dir: dir}
	for _, o := range options {
		o(f)
	}
	return f
}

var _ Transport = &File{}

func (f *File) topology() (*Topology, error) {
	path := filepath.Join(f.dir, TopologyFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Topology{}, nil
		}
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	t := &Topology{}
	if err := yaml.Unmarshal(data, t); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", path)
	}
	return t, nil
}

// SaveTopology writes the topology file of the transport.
func (f *File) SaveTopology(t *Topology) error {
	data, err := yaml.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "failed to marshal topology")
	}
	return f.replace(filepath.Join(f.dir, TopologyFile), data)
}

// DriverCapabilities implements Transport.
func (f *File) DriverCapabilities(ctx context.Context) (nvm.DriverFeatureFlags, error) {
	t, err := f.topology()
	if err != nil {
		return nvm.DriverFeatureFlags{}, err
	}
	return t.Driver, nil
}

// PlatformCapabilities implements Transport.
func (f *File) PlatformCapabilities(ctx context.Context) ([]byte, error) {
	if f.sysfsRoot != "" {
		return sysfs.ReadPCAT(f.sysfsRoot)
	}
	return readTable(filepath.Join(f.dir, PcatFile))
}

// Devices implements Transport.
func (f *File) Devices(ctx context.Context) ([]nvm.DeviceDiscovery, error) {
	t, err := f.topology()
	if err != nil {
		return nil, err
	}
	if len(t.Devices) == 0 && f.sysfsRoot != "" {
		return sysfs.DiscoverNmem(f.sysfsRoot)
	}
	return t.Devices, nil
}

// Capacities implements Transport.
func (f *File) Capacities(ctx context.Context) ([]nvm.DeviceCapacities, error) {
	t, err := f.topology()
	if err != nil {
		return nil, err
	}
	return t.Capacities, nil
}

// Namespaces implements Transport.
func (f *File) Namespaces(ctx context.Context) ([]nvm.Namespace, error) {
	t, err := f.topology()
	if err != nil {
		return nil, err
	}
	return t.Namespaces, nil
}

func (f *File) pcdPath(handle nvm.DeviceHandle) string {
	return filepath.Join(f.dir, PcdDir, fmt.Sprintf("%08x.bin", uint32(handle)))
}

// PlatformConfig implements Transport.
func (f *File) PlatformConfig(ctx context.Context, handle nvm.DeviceHandle) ([]byte, error) {
	return readTable(f.pcdPath(handle))
}

// SetPlatformConfig implements Transport.
func (f *File) SetPlatformConfig(ctx context.Context, handle nvm.DeviceHandle, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := f.pcdPath(handle)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return errors.Wrap(err, "failed to create platform config directory")
	}
	if err := f.replace(path, data); err != nil {
		return err
	}
	if err := os.Remove(path + xzSuffix); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove stale %s: %v", path+xzSuffix, err)
	}

	log.Debug("DIMM %s: wrote %d bytes of platform config data", handle, len(data))
	return nil
}

// replace atomically replaces the file at path with data while holding an
// exclusive lock next to it.
func (f *File) replace(path string, data []byte) error {
	lock, err := os.OpenFile(path+".lock", os.O_CREATE|os.O_RDWR, filePerm)
	if err != nil {
		return errors.Wrapf(err, "failed to open lock for %s", path)
	}
	defer lock.Close()

	if err := unix.Flock(int(lock.Fd()), unix.LOCK_EX); err != nil {
		return errors.Wrapf(err, "failed to lock %s", path)
	}
	defer func() {
		if err := unix.Flock(int(lock.Fd()), unix.LOCK_UN); err != nil {
			log.Warn("failed to unlock %s: %v", path, err)
		}
	}()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, filePerm); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to rename %s to %s", tmp, path)
	}
	return nil
}

// readTable reads a table from path, or from its xz compressed variant.
func readTable(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}

	compressed, err := os.ReadFile(path + xzSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", nvm.ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "failed to read %s", path+xzSuffix)
	}
	return decompress(compressed)
}

func decompress(data []byte) ([]byte, error) {
	r, err := xz.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "failed to open xz stream")
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress xz stream")
	}
	return out, nil
}

// Compress returns data as an xz stream, the format captured tables may be
// stored in.
func Compress(data []byte) ([]byte, error) {
	buf := &bytes.Buffer{}
	w, err := xz.NewWriter(buf)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create xz stream")
	}
	if _, err := w.Write(data); err != nil {
		return nil, errors.Wrap(err, "failed to compress")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "failed to finish xz stream")
	}
	return buf.Bytes(), nil
}
