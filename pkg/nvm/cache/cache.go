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

// Package cache keeps the last resolved capabilities and pools of a host
// until a write invalidates them.
package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

var log = logger.Get("cache")

const cacheFilePerm = 0o600

// Capabilities is a resolved capability snapshot.
type Capabilities struct {
	Driver   nvm.DriverFeatureFlags     `json:"driver"`
	Platform *nvm.PlatformCapabilities `json:"platform,omitempty"`
	Sku      nvm.DimmSkuCapabilities    `json:"sku"`
	Features nvm.NvmFeatureSet          `json:"features"`
}

// Options for the cache.
type Options struct {
	// FilePath is where Save and Load keep the cache, if set.
	FilePath string
}

// Cache holds the snapshots. It is safe for concurrent use.
type Cache struct {
	sync.Mutex
	capabilities *Capabilities
	pools        []nvm.Pool
	filePath     string
}

// New creates a new cache.
func New(options Options) *Cache {
	return &Cache{filePath: options.FilePath}
}

func cacheError(format string, args ...interface{}) error {
	return fmt.Errorf("cache: "+format, args...)
}

// Capabilities returns the cached capabilities, if any.
func (c *Cache) Capabilities() (*Capabilities, bool) {
	c.Lock()
	defer c.Unlock()
	return c.capabilities, c.capabilities != nil
}

// SetCapabilities caches the given capabilities.
func (c *Cache) SetCapabilities(caps *Capabilities) {
	c.Lock()
	defer c.Unlock()
	c.capabilities = caps
}

// Pools returns a copy of the cached pools, if any.
func (c *Cache) Pools() ([]nvm.Pool, bool) {
	c.Lock()
	defer c.Unlock()
	if c.pools == nil {
		return nil, false
	}
	return append([]nvm.Pool{}, c.pools...), true
}

// SetPools caches the given pools.
func (c *Cache) SetPools(pools []nvm.Pool) {
	c.Lock()
	defer c.Unlock()
	if pools == nil {
		pools = []nvm.Pool{}
	}
	c.pools = append([]nvm.Pool{}, pools...)
}

// Invalidate drops every snapshot. Any successful configuration change
// must invalidate the cache.
func (c *Cache) Invalidate() {
	c.Lock()
	defer c.Unlock()
	log.Debug("invalidating cache")
	c.capabilities = nil
	c.pools = nil
}

type snapshot struct {
	Capabilities *Capabilities `json:"capabilities,omitempty"`
	Pools        []nvm.Pool    `json:"pools,omitempty"`
}

// Save writes the cache to its file, replacing the previous contents.
func (c *Cache) Save() error {
	if c.filePath == "" {
		return nil
	}

	c.Lock()
	data, err := json.Marshal(snapshot{Capabilities: c.capabilities, Pools: c.pools})
	c.Unlock()
	if err != nil {
		return cacheError("failed to marshal cache: %v", err)
	}

	log.Debug("saving cache to file '%s'...", c.filePath)

	tmpPath := c.filePath + ".saving"
	if err := os.WriteFile(tmpPath, data, cacheFilePerm); err != nil {
		return cacheError("failed to write cache to file %q: %v", tmpPath, err)
	}
	if err := os.Rename(tmpPath, c.filePath); err != nil {
		return cacheError("failed to rename %q to %q: %v", tmpPath, c.filePath, err)
	}
	return nil
}

// Load restores the last saved state of the cache.
func (c *Cache) Load() error {
	if c.filePath == "" {
		return nil
	}

	log.Debug("loading cache from file '%s'...", c.filePath)

	data, err := os.ReadFile(c.filePath)
	switch {
	case os.IsNotExist(err):
		log.Debug("no cache file '%s', nothing to restore", c.filePath)
		return nil
	case err != nil:
		return cacheError("failed to load cache from file '%s': %v", c.filePath, err)
	case len(data) == 0:
		log.Debug("empty cache file '%s', nothing to restore", c.filePath)
		return nil
	}

	s := snapshot{}
	if err := json.Unmarshal(data, &s); err != nil {
		return cacheError("failed to restore cache from '%s': %v", c.filePath, err)
	}

	c.Lock()
	defer c.Unlock()
	c.capabilities = s.Capabilities
	c.pools = s.Pools
	return nil
}
