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

package udev

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
)

// MonitorOption is an option for a Monitor.
type MonitorOption func(*Monitor)

// WithFilters passes through events matching any of the filters. An event
// matches a filter if every property of the filter equals the property
// of the event.
func WithFilters(filters ...map[string]string) MonitorOption {
	return func(m *Monitor) {
		m.filters = append(m.filters, filters...)
	}
}

// WithGlobFilters is like WithFilters but matches properties by glob.
func WithGlobFilters(globbers ...map[string]string) MonitorOption {
	return func(m *Monitor) {
		m.globbers = append(m.globbers, globbers...)
	}
}

// WithReader monitors events from the given reader instead of the kernel.
func WithReader(r *EventReader) MonitorOption {
	return func(m *Monitor) {
		m.r = r
	}
}

// NvdimmGlobFilters match events of NVDIMMs, their regions and namespaces.
var NvdimmGlobFilters = []map[string]string{
	{PropertySubsystem: "nd", PropertyDevtype: "nd_dimm"},
	{PropertySubsystem: "nd", PropertyDevtype: "nd_pmem"},
	{PropertySubsystem: "nd", PropertyDevtype: "nd_volatile"},
	{PropertySubsystem: "nd", PropertyDevtype: "nd_namespace_*"},
}

// Monitor delivers filtered uevents to a handler.
type Monitor struct {
	r        *EventReader
	filters  []map[string]string
	globbers []map[string]string
}

// NewMonitor creates a monitor with the given options.
func NewMonitor(options ...MonitorOption) (*Monitor, error) {
	m := &Monitor{}
	for _, o := range options {
		o(m)
	}

	if m.r == nil {
		r, err := NewEventReader()
		if err != nil {
			return nil, fmt.Errorf("failed to create uevent monitor: %w", err)
		}
		m.r = r
	}

	return m, nil
}

// Run delivers matching events to handler until ctx is done or reading
// fails. The monitor is closed when Run returns.
func (m *Monitor) Run(ctx context.Context, handler func(*Event)) error {
	stop := context.AfterFunc(ctx, func() {
		m.r.Close() // nolint:errcheck
	})
	defer func() {
		if stop() {
			m.r.Close() // nolint:errcheck
		}
	}()

	for {
		evt, err := m.r.Read()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read uevent: %w", err)
		}

		if !m.filter(evt) {
			continue
		}

		log.Debug("uevent %s %s (%s)", evt.Action, evt.Devpath, evt.Subsystem)
		handler(evt)
	}
}

func (m *Monitor) filter(evt *Event) bool {
	if len(m.filters) == 0 && len(m.globbers) == 0 {
		return true
	}

	for _, filter := range m.filters {
		if matches(filter, evt, func(p, v string) (bool, error) { return p == v, nil }) {
			return true
		}
	}
	for _, glob := range m.globbers {
		if matches(glob, evt, path.Match) {
			return true
		}
	}

	return false
}

func matches(filter map[string]string, evt *Event, match func(pattern, value string) (bool, error)) bool {
	for k, p := range filter {
		ok, err := match(p, evt.Properties[k])
		if err != nil {
			log.Error("failed to match uevent property %q=%q by %q: %v",
				k, evt.Properties[k], p, err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}
