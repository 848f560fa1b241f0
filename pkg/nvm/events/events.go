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

// Package events keeps a rate-limited log of management events, such as
// SKU violations and rejected config goals.
package events

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	logger "github.com/intel/nvm-capacity/pkg/log"
)

// Kind identifies the type of an event.
type Kind int

const (
	SkuViolation Kind = iota
	ConfigNotSupported
	ConfigGoalCreated
	ConfigGoalDeleted
)

var kindNames = map[Kind]string{
	SkuViolation:       "sku-violation",
	ConfigNotSupported: "config-not-supported",
	ConfigGoalCreated:  "config-goal-created",
	ConfigGoalDeleted:  "config-goal-deleted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("%%!(events:Bad-Kind %d)", int(k))
}

// Event is a single recorded event.
type Event struct {
	Kind    Kind      `json:"kind"`
	Device  string    `json:"device,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Log records events, dropping those that exceed the per-kind rate.
// A nil *Log is valid and discards every event.
type Log struct {
	sync.Mutex
	limit   rate.Limit
	burst   int
	max     int
	limiter map[Kind]*rate.Limiter
	events  []Event
	dropped map[Kind]int
	now     func() time.Time
}

// Option is an option for a Log.
type Option func(*Log)

// WithRate sets the sustained rate and burst of events per kind.
func WithRate(limit rate.Limit, burst int) Option {
	return func(l *Log) {
		l.limit = limit
		l.burst = burst
	}
}

// WithCapacity sets the number of recent events kept in memory.
func WithCapacity(max int) Option {
	return func(l *Log) {
		l.max = max
	}
}

// WithClock sets the time source used to stamp and rate-limit events.
func WithClock(now func() time.Time) Option {
	return func(l *Log) {
		l.now = now
	}
}

const (
	defaultRate     = rate.Limit(1)
	defaultBurst    = 10
	defaultCapacity = 128
)

var log = logger.Get("events")

// New creates a new event log.
func New(options ...Option) *Log {
	l := &Log{
		limit:   defaultRate,
		burst:   defaultBurst,
		max:     defaultCapacity,
		limiter: map[Kind]*rate.Limiter{},
		dropped: map[Kind]int{},
		now:     time.Now,
	}
	for _, o := range options {
		o(l)
	}
	return l
}

// Emit records an event of the given kind about a device.
func (l *Log) Emit(kind Kind, device string, format string, args ...interface{}) {
	if l == nil {
		return
	}

	l.Lock()
	defer l.Unlock()

	now := l.now()
	lim, ok := l.limiter[kind]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiter[kind] = lim
	}
	if !lim.AllowN(now, 1) {
		l.dropped[kind]++
		return
	}

	e := Event{
		Kind:    kind,
		Device:  device,
		Message: fmt.Sprintf(format, args...),
		Time:    now,
	}

	switch kind {
	case SkuViolation, ConfigNotSupported:
		log.Warn("%s: device %s: %s", kind, device, e.Message)
	default:
		log.Info("%s: device %s: %s", kind, device, e.Message)
	}

	l.events = append(l.events, e)
	if over := len(l.events) - l.max; over > 0 {
		l.events = append([]Event{}, l.events[over:]...)
	}
}

// Events returns the recorded events, oldest first.
func (l *Log) Events() []Event {
	if l == nil {
		return nil
	}
	l.Lock()
	defer l.Unlock()
	return append([]Event{}, l.events...)
}

// Count returns the number of recorded events of the given kind.
func (l *Log) Count(kind Kind) int {
	n := 0
	for _, e := range l.Events() {
		if e.Kind == kind {
			n++
		}
	}
	return n
}

// Dropped returns the number of events of the given kind that were
// dropped by rate limiting.
func (l *Log) Dropped(kind Kind) int {
	if l == nil {
		return 0
	}
	l.Lock()
	defer l.Unlock()
	return l.dropped[kind]
}
