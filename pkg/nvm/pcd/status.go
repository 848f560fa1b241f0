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

package pcd

import (
	"fmt"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

// goalError is the classification of a failure reported in config output.
type goalError int

const (
	goalErrNone goalError = iota
	goalErrBadRequest
	goalErrBrokenInterleave
	goalErrInsufficient
	goalErrFirmware
	goalErrUnknown
)

var goalErrStatus = map[goalError]nvm.ConfigGoalStatus{
	goalErrNone:             nvm.ConfigGoalStatusUnknown,
	goalErrBadRequest:       nvm.ConfigGoalStatusErrBadRequest,
	goalErrBrokenInterleave: nvm.ConfigGoalStatusErrBadRequest,
	goalErrInsufficient:     nvm.ConfigGoalStatusErrInsufficientResources,
	goalErrFirmware:         nvm.ConfigGoalStatusErrFirmware,
	goalErrUnknown:          nvm.ConfigGoalStatusErrUnknown,
}

// StatusFrom derives the state of the pending config goal from the BIOS
// response in the platform config data. It returns nvm.ErrNotFound if no
// goal is pending.
func StatusFrom(p *PlatformConfigData) (nvm.ConfigGoalStatus, error) {
	if p.Input == nil {
		return nvm.ConfigGoalStatusUnknown, fmt.Errorf("%w: no config input", nvm.ErrNotFound)
	}
	if p.Output == nil || p.Output.Sequence != p.Input.Sequence {
		return nvm.ConfigGoalStatusNew, nil
	}
	if p.Output.ValidationStatus == OutputStatusSuccess {
		return nvm.ConfigGoalStatusSuccess, nil
	}

	status := goalErrStatus[outputError(p.Output.Extensions)]
	log.Debug("config output %d: validation status %d, goal status %s",
		p.Output.Sequence, p.Output.ValidationStatus, status)
	return status, nil
}

// outputError returns the first failure reported by the extension tables
// of a config output.
func outputError(exts []Extension) goalError {
	for _, e := range exts {
		var err goalError
		switch e := e.(type) {
		case *PartitionSizeChange:
			err = partitionError(e.StatusCode())
		case *InterleaveInfo:
			err = interleaveError(e.Status)
		case *RawExtension:
			if len(e.Body) == 0 {
				err = goalErrBadRequest
			}
		}
		if err != goalErrNone {
			return err
		}
	}
	return goalErrNone
}

func partitionError(status uint32) goalError {
	switch status {
	case PartitionStatusSuccess:
		return goalErrNone
	case PartitionStatusDimmsNotFound:
		return goalErrBrokenInterleave
	case PartitionStatusInterleaveInfoBad, PartitionStatusBadAlignment:
		return goalErrBadRequest
	case PartitionStatusSizeTooBig, PartitionStatusOutOfDecoders:
		return goalErrInsufficient
	case PartitionStatusFirmwareError:
		return goalErrFirmware
	}
	return goalErrUnknown
}

func interleaveError(status uint8) goalError {
	switch status {
	case InterleaveStatusSuccess, InterleaveStatusNotProcessed, InterleaveStatusPartitioningFailed:
		return goalErrNone
	case InterleaveStatusDimmsNotFound:
		return goalErrBrokenInterleave
	case InterleaveStatusInterleaveInfoBad, InterleaveStatusDimmMissing,
		InterleaveStatusChannelMismatch, InterleaveStatusBadAlignment:
		return goalErrBadRequest
	case InterleaveStatusOutOfDecoders, InterleaveStatusOutOfAddressSpace,
		InterleaveStatusUnavailableResources:
		return goalErrInsufficient
	}
	return goalErrUnknown
}

// ConfigStatusFrom maps the status of the current config to the state of
// the configuration in use. A missing current config is not configured.
func ConfigStatusFrom(c *CurrentConfig) nvm.ConfigStatus {
	if c == nil {
		return nvm.ConfigStatusNotConfigured
	}
	switch c.Status {
	case CurrentStatusSuccess:
		return nvm.ConfigStatusValid
	case CurrentStatusDimmsNotFound:
		return nvm.ConfigStatusErrBrokenInterleave
	case CurrentStatusUnconfigured, CurrentStatusErrorUnmapped:
		return nvm.ConfigStatusNotConfigured
	case CurrentStatusErrorUsingOld, CurrentStatusBadInputChecksum, CurrentStatusBadInputRevision:
		return nvm.ConfigStatusErrReverted
	case CurrentStatusUnknown, CurrentStatusInterleaveNotFound, CurrentStatusBadCurrentChecksum:
		return nvm.ConfigStatusErrCorrupt
	}
	return nvm.ConfigStatusErrNotSupported
}

// MaxSetIndex returns the largest interleave set index used by the config
// input and current config of raw platform config data. Any malformed
// extension table fails the lookup.
func MaxSetIndex(buf []byte) (uint16, error) {
	p, err := Parse(buf)
	if err != nil {
		return 0, err
	}

	var maxIndex uint16
	var sets []*InterleaveInfo
	if p.Input != nil {
		sets = append(sets, p.Input.Interleaves()...)
	}
	if p.Current != nil {
		sets = append(sets, p.Current.Interleaves()...)
	}
	for _, s := range sets {
		if s.Index > maxIndex {
			maxIndex = s.Index
		}
	}
	return maxIndex, nil
}

// InterleaveSettingsAt returns the index, format and mirroring of the app
// direct set in the current config which starts at the given partition
// offset of the DIMM.
func InterleaveSettingsAt(p *PlatformConfigData, offset uint64) (uint16, nvm.InterleaveFormat, bool, error) {
	if p.Current == nil {
		return 0, nvm.InterleaveFormat{}, false, fmt.Errorf("%w: no current config", nvm.ErrNotFound)
	}

	for _, s := range p.Current.Interleaves() {
		if s.MemoryType != MemoryTypeAppDirect || len(s.Dimms) == 0 || s.Dimms[0].Offset != offset {
			continue
		}
		format, err := nvm.DecodeInterleaveFormat(s.Format)
		if err != nil {
			return 0, nvm.InterleaveFormat{}, false, fmt.Errorf("%w: interleave set %d: %w",
				nvm.ErrCorrupt, s.Index, err)
		}
		return s.Index, format, s.Mirror, nil
	}

	return 0, nvm.InterleaveFormat{}, false, fmt.Errorf("%w: no interleave set at offset 0x%x",
		nvm.ErrNotFound, offset)
}
