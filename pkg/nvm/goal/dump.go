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

package goal

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/pkg/errors"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

var dimmConfigHeader = []string{
	"#SocketID",
	"DimmHandle",
	"Capacity",
	"MemorySize",
	"AppDirect1Size",
	"AppDirect1Format",
	"AppDirect1Mirrored",
	"AppDirect1Index",
	"AppDirect2Size",
	"AppDirect2Format",
	"AppDirect2Mirrored",
	"AppDirect2Index",
}

const dimmConfigFields = 12

// DimmConfig is one DIMM of a configuration dump.
type DimmConfig struct {
	SocketID uint16
	Handle   nvm.DeviceHandle
	// Capacity is the raw DIMM capacity in GiB.
	Capacity uint64
	Goal     nvm.ConfigGoal
}

// WriteDimmConfig writes the goal of a DIMM as one configuration line,
// preceded by the column header if header is true.
func WriteDimmConfig(w io.Writer, device *nvm.DeviceDiscovery, goal *nvm.ConfigGoal, header bool) error {
	cw := csv.NewWriter(w)

	if header {
		if err := cw.Write(dimmConfigHeader); err != nil {
			return errors.Wrap(err, "failed to write config header")
		}
	}

	record := []string{
		strconv.FormatUint(uint64(device.SocketID), 10),
		strconv.FormatUint(uint64(device.Handle), 10),
		strconv.FormatUint(device.Capacity/nvm.BytesPerGiB, 10),
		strconv.FormatUint(goal.MemorySize, 10),
	}
	for i := 0; i < nvm.MaxAppDirectExtents; i++ {
		ext := nvm.AppDirectExtent{}
		if i < len(goal.AppDirect) {
			ext = goal.AppDirect[i]
		}
		format := uint32(0)
		if ext.Interleave.Ways != 0 {
			format = ext.Interleave.Encode()
		}
		mirrored := "0"
		if ext.Mirrored {
			mirrored = "1"
		}
		record = append(record,
			strconv.FormatUint(ext.Size, 10),
			strconv.FormatUint(uint64(format), 10),
			mirrored,
			strconv.FormatUint(uint64(ext.SetID), 10),
		)
	}

	if err := cw.Write(record); err != nil {
		return errors.Wrapf(err, "failed to write config of DIMM %s", device.UID)
	}
	cw.Flush()
	return errors.Wrap(cw.Error(), "failed to flush config")
}

// ReadDimmConfig reads every DIMM line of a configuration dump. Lines
// starting with '#' are comments. Extra trailing columns are ignored.
func ReadDimmConfig(r io.Reader) ([]DimmConfig, error) {
	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var configs []DimmConfig
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", nvm.ErrBadDeviceConfig, err)
		}
		line, _ := cr.FieldPos(0)

		if len(record) < dimmConfigFields {
			return nil, fmt.Errorf("%w: line %d: %d fields, expected %d",
				nvm.ErrBadDeviceConfig, line, len(record), dimmConfigFields)
		}
		if len(record) > dimmConfigFields {
			log.Info("line %d: ignoring %d extra fields", line, len(record)-dimmConfigFields)
		}

		c, err := parseDimmConfig(record)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", nvm.ErrBadDeviceConfig, line, err)
		}
		configs = append(configs, c)
	}

	return configs, nil
}

type fieldParser struct {
	record []string
	idx    int
	err    error
}

func (p *fieldParser) next(bits int) uint64 {
	field := p.record[p.idx]
	p.idx++
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseUint(field, 10, bits)
	if err != nil {
		p.err = fmt.Errorf("%s: %w", dimmConfigHeader[p.idx-1], err)
	}
	return v
}

func parseDimmConfig(record []string) (DimmConfig, error) {
	p := &fieldParser{record: record}
	c := DimmConfig{
		SocketID: uint16(p.next(16)),
		Handle:   nvm.DeviceHandle(p.next(32)),
		Capacity: p.next(64),
	}
	c.Goal.MemorySize = p.next(64)

	for i := 0; i < nvm.MaxAppDirectExtents; i++ {
		size := p.next(64)
		format := uint32(p.next(32))
		mirrored := p.next(8)
		setID := uint16(p.next(16))
		if p.err != nil {
			return DimmConfig{}, p.err
		}
		if size == 0 {
			continue
		}

		ext := nvm.AppDirectExtent{
			Size:     size,
			SetID:    setID,
			Mirrored: mirrored != 0,
		}
		if format != 0 {
			f, err := nvm.DecodeInterleaveFormat(format)
			if err != nil {
				return DimmConfig{}, err
			}
			ext.Interleave = f
		}
		c.Goal.AppDirect = append(c.Goal.AppDirect, ext)
	}

	return c, p.err
}

// LoadGoal finds the configuration line of a DIMM and turns it into a goal
// for that DIMM. The DIMMs of every app direct set are filled in from the
// lines that carry the same set index, in file order.
func LoadGoal(configs []DimmConfig, device *nvm.DeviceDiscovery, devices []nvm.DeviceDiscovery) (*nvm.ConfigGoal, error) {
	var cfg *DimmConfig
	for i := range configs {
		c := &configs[i]
		if c.Handle == device.Handle && c.SocketID == device.SocketID {
			cfg = c
			break
		}
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no config for DIMM %s (handle %s)",
			nvm.ErrBadDeviceConfig, device.UID, device.Handle)
	}

	if device.Capacity/nvm.BytesPerGiB < cfg.Capacity {
		return nil, fmt.Errorf("%w: DIMM %s is smaller than the %d GiB in the config",
			nvm.ErrBadSize, device.UID, cfg.Capacity)
	}

	byHandle := map[nvm.DeviceHandle]*nvm.DeviceDiscovery{}
	for i := range devices {
		byHandle[devices[i].Handle] = &devices[i]
	}

	goal := &nvm.ConfigGoal{
		MemorySize: cfg.Goal.MemorySize,
		AppDirect:  make([]nvm.AppDirectExtent, len(cfg.Goal.AppDirect)),
	}
	copy(goal.AppDirect, cfg.Goal.AppDirect)

	for i := range goal.AppDirect {
		ext := &goal.AppDirect[i]
		ext.Dimms = nil
		for _, c := range configs {
			if i >= len(c.Goal.AppDirect) || c.Goal.AppDirect[i].SetID != ext.SetID {
				continue
			}
			if d, ok := byHandle[c.Handle]; ok {
				ext.Dimms = append(ext.Dimms, d.UID)
			}
		}
		if len(ext.Dimms) != ext.Interleave.Ways.Count() {
			return nil, fmt.Errorf("%w: found %d of the %d DIMMs of app direct set %d",
				nvm.ErrBadDeviceConfig, len(ext.Dimms), ext.Interleave.Ways.Count(), ext.SetID)
		}
	}

	return goal, nil
}
