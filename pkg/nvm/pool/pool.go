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

// Package pool assembles the interleave sets and capacities of the DIMMs
// on a host into capacity pools.
package pool

import (
	"fmt"

	"github.com/google/uuid"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

var log = logger.Get("pool")

// Assembler builds the pools of a host.
type Assembler struct {
	// Host is the host name the pool UIDs are derived from.
	Host string
	// MaxPools limits the number of pools returned, if non-zero.
	MaxPools int
}

type poolKey struct {
	socket int
	typ    nvm.PoolType
}

// assembly is the state of a single Assemble call.
type assembly struct {
	host       string
	devices    map[nvm.DeviceHandle]*nvm.DeviceDiscovery
	capacities map[nvm.DeviceHandle]*nvm.DeviceCapacities
	pools      map[poolKey]*nvm.Pool
	order      []poolKey
	// security rollups start out true and are cleared by any DIMM
	encryptionCapable map[poolKey]bool
	encryptionEnabled map[poolKey]bool
	eraseCapable      map[poolKey]bool
	// pools with a locked DIMM have no free capacity
	locked map[poolKey]bool
}

// Assemble returns the pools of the host: the volatile pool first, then
// the mirrored and the persistent pool of each socket. Interleave sets are
// only considered if app direct mode is available, storage capacity only
// if storage mode is.
func (a *Assembler) Assemble(features nvm.NvmFeatureSet, devices []nvm.DeviceDiscovery,
	capacities []nvm.DeviceCapacities, sets []nvm.InterleaveSet, namespaces []nvm.Namespace) ([]nvm.Pool, error) {
	s := &assembly{
		host:              a.Host,
		devices:           make(map[nvm.DeviceHandle]*nvm.DeviceDiscovery),
		capacities:        make(map[nvm.DeviceHandle]*nvm.DeviceCapacities),
		pools:             make(map[poolKey]*nvm.Pool),
		encryptionCapable: make(map[poolKey]bool),
		encryptionEnabled: make(map[poolKey]bool),
		eraseCapable:      make(map[poolKey]bool),
		locked:            make(map[poolKey]bool),
	}
	for i := range devices {
		s.devices[devices[i].Handle] = &devices[i]
	}
	for i := range capacities {
		s.capacities[capacities[i].Handle] = &capacities[i]
	}

	for i := range devices {
		d := &devices[i]
		c, ok := s.capacities[d.Handle]
		if !d.IsManageable() || !ok || c.MemoryCapacity == 0 {
			continue
		}
		s.addMemory(d, c.MemoryCapacity)
	}

	if features.AppDirectMode {
		for _, set := range sets {
			if set.Mirrored {
				if err := s.addSet(set, nvm.PoolTypePersistentMirror, namespaces); err != nil {
					return nil, err
				}
			}
		}
		for _, set := range sets {
			if !set.Mirrored {
				if err := s.addSet(set, nvm.PoolTypePersistent, namespaces); err != nil {
					return nil, err
				}
			}
		}
	}

	if features.StorageMode {
		for i := range devices {
			d := &devices[i]
			c, ok := s.capacities[d.Handle]
			if !d.IsManageable() || !ok || c.StorageCapacity == 0 {
				continue
			}
			s.addStorage(d, c.StorageCapacity, namespaces)
		}
	}

	if n := len(s.order); n > nvm.MaxPools {
		return nil, fmt.Errorf("%w: %d pools, at most %d expected", nvm.ErrBadPoolHealth, n, nvm.MaxPools)
	}
	if n := len(s.order); a.MaxPools > 0 && n > a.MaxPools {
		return nil, fmt.Errorf("%w: %d pools, room for %d", nvm.ErrArrayTooSmall, n, a.MaxPools)
	}

	return s.result(), nil
}

func (s *assembly) pool(socket int, typ nvm.PoolType) *nvm.Pool {
	key := poolKey{socket: socket, typ: typ}
	if p, ok := s.pools[key]; ok {
		return p
	}

	var src string
	if typ == nvm.PoolTypeVolatile {
		src = s.host + typ.String()
	} else {
		src = fmt.Sprintf("%s%s%d", s.host, typ, socket)
	}
	p := &nvm.Pool{
		UID:      uuid.NewSHA1(nvm.PoolNamespace, []byte(src)).String(),
		Type:     typ,
		SocketID: socket,
	}
	s.pools[key] = p
	s.order = append(s.order, key)
	s.encryptionCapable[key] = true
	s.encryptionEnabled[key] = true
	s.eraseCapable[key] = true

	log.Debug("new %s pool %s on socket %d", typ, p.UID, socket)
	return p
}

// addDimm returns the entry of the DIMM in the pool, adding it and rolling
// its state into the pool on first use.
func (s *assembly) addDimm(p *nvm.Pool, d *nvm.DeviceDiscovery) *nvm.PoolDimm {
	if pd, ok := p.Dimm(d.Handle); ok {
		return pd
	}

	key := poolKey{socket: p.SocketID, typ: p.Type}
	s.encryptionCapable[key] = s.encryptionCapable[key] && d.Security.PassphraseCapable
	s.encryptionEnabled[key] = s.encryptionEnabled[key] && d.LockState.EncryptionEnabled()
	s.eraseCapable[key] = s.eraseCapable[key] && d.Security.EraseCapable()
	if d.LockState.IsLocked() {
		s.locked[key] = true
	}

	p.Health = p.Health.Worse(dimmPoolHealth(d, p.Type))

	p.Dimms = append(p.Dimms, nvm.PoolDimm{UID: d.UID, Handle: d.Handle})
	return &p.Dimms[len(p.Dimms)-1]
}

func dimmPoolHealth(d *nvm.DeviceDiscovery, typ nvm.PoolType) nvm.PoolHealth {
	var health nvm.PoolHealth
	switch d.Health {
	case nvm.DeviceHealthNormal:
		health = nvm.PoolHealthNormal
	case nvm.DeviceHealthNonCritical, nvm.DeviceHealthCritical:
		health = nvm.PoolHealthWarning
	case nvm.DeviceHealthFatal:
		if typ == nvm.PoolTypePersistentMirror {
			health = nvm.PoolHealthDegraded
		} else {
			health = nvm.PoolHealthFailed
		}
	default:
		health = nvm.PoolHealthUnknown
	}
	if d.LockState.IsLocked() {
		health = health.Worse(nvm.PoolHealthLocked)
	}
	return health
}

func (s *assembly) addMemory(d *nvm.DeviceDiscovery, size uint64) {
	p := s.pool(-1, nvm.PoolTypeVolatile)
	pd := s.addDimm(p, d)
	pd.Capacity += size
	pd.FreeCapacity += size
	p.Capacity += size
	p.FreeCapacity += size
}

func (s *assembly) addSet(set nvm.InterleaveSet, typ nvm.PoolType, namespaces []nvm.Namespace) error {
	if len(set.Dimms) == 0 {
		log.Warn("ignoring interleave set %d without DIMMs", set.DriverID)
		return nil
	}

	p := s.pool(int(set.SocketID), typ)
	for _, existing := range p.Sets {
		if existing.SetIndex == set.SetIndex {
			return nil
		}
	}

	set.AvailableSize = availableSize(set, namespaces)
	p.Sets = append(p.Sets, set)
	p.Capacity += set.Size
	p.FreeCapacity += set.AvailableSize

	n := uint64(len(set.Dimms))
	for _, id := range set.Dimms {
		d, ok := s.devices[id.Handle]
		if !ok {
			return fmt.Errorf("%w: DIMM %s of interleave set %d not found",
				nvm.ErrDriverFailed, id.Handle, set.DriverID)
		}
		pd := s.addDimm(p, d)

		var capacity, free uint64
		switch {
		case set.Mirrored:
			// each DIMM holds a copy of half of the presented set
			capacity = set.Size * 2 / n
			free = set.AvailableSize * 2 / n
		case n == 1:
			capacity = set.Size
			free = set.AvailableSize
		default:
			capacity = set.Size / n
			free = set.AvailableSize / n
		}
		pd.Capacity += capacity
		pd.FreeCapacity += free
	}

	return nil
}

// availableSize returns the part of the set not used by app direct
// namespaces.
func availableSize(set nvm.InterleaveSet, namespaces []nvm.Namespace) uint64 {
	used := uint64(0)
	for _, ns := range namespaces {
		if ns.Type == nvm.NamespaceTypeAppDirect && ns.InterleaveSetID == set.DriverID {
			used += ns.Capacity
		}
	}
	if used >= set.Size {
		return 0
	}
	return set.Size - used
}

func (s *assembly) addStorage(d *nvm.DeviceDiscovery, size uint64, namespaces []nvm.Namespace) {
	used := uint64(0)
	for _, ns := range namespaces {
		if ns.Type == nvm.NamespaceTypeStorage && ns.Handle == d.Handle {
			used += ns.Capacity
		}
	}
	free := uint64(0)
	if used < size {
		free = size - used
	}

	p := s.pool(int(d.SocketID), nvm.PoolTypePersistent)
	pd := s.addDimm(p, d)
	pd.Capacity += size
	pd.FreeCapacity += free
	pd.StorageCapacity += size
	p.Capacity += size
	p.FreeCapacity += free
}

func (s *assembly) result() []nvm.Pool {
	var pools []nvm.Pool
	for _, typ := range []nvm.PoolType{nvm.PoolTypeVolatile, nvm.PoolTypePersistentMirror, nvm.PoolTypePersistent} {
		for _, key := range s.order {
			if key.typ != typ {
				continue
			}
			p := s.pools[key]
			p.EncryptionCapable = s.encryptionCapable[key]
			p.EncryptionEnabled = s.encryptionEnabled[key]
			p.EraseCapable = s.eraseCapable[key]
			if s.locked[key] {
				p.FreeCapacity = 0
				for i := range p.Dimms {
					p.Dimms[i].FreeCapacity = 0
				}
			}
			pools = append(pools, *p)
		}
	}
	return pools
}
