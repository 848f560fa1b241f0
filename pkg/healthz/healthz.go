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

package healthz

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	logger "github.com/intel/nvm-capacity/pkg/log"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

var log = logger.NewLogger("health-check")

// CheckFn checks the health of a single component.
type CheckFn func(ctx context.Context) (status Status, details error)

// Status describes the health of a component or the whole.
type Status int

const (
	Healthy Status = iota
	Degraded
	NonFunctional
)

func (s Status) String() string {
	switch s {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	case NonFunctional:
		return "non-functional"
	}
	return fmt.Sprintf("%%!(healthz:Bad-Status %d)", int(s))
}

// Checker runs the registered checks. The worst reported status wins.
type Checker struct {
	lock     sync.Mutex
	checkers map[string]CheckFn
	sorted   []string
	timeout  time.Duration
}

// NewChecker creates a checker, each check run limited to timeout.
func NewChecker(timeout time.Duration) *Checker {
	return &Checker{
		checkers: map[string]CheckFn{},
		timeout:  timeout,
	}
}

// Setup prepares the given HTTP request multiplexer for serving healthz.
func (c *Checker) Setup(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", c.serve)
}

func (c *Checker) serve(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	status, details := c.Check(ctx)
	if status == Healthy {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("ok")); err != nil {
			log.Errorf("failed to write response: %v", err)
		}
		return
	}

	names := make([]string, 0, len(details))
	for name := range details {
		names = append(names, name)
	}
	sort.Strings(names)

	body := strings.Builder{}
	fmt.Fprintf(&body, "%s\n", status)
	for _, name := range names {
		fmt.Fprintf(&body, "%s: %v\n", name, details[name])
	}

	w.WriteHeader(http.StatusInternalServerError)
	if _, err := w.Write([]byte(body.String())); err != nil {
		log.Errorf("failed to write response: %v", err)
	}
}

// Register registers the given health checker function.
func (c *Checker) Register(name string, fn CheckFn) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if _, conflict := c.checkers[name]; conflict {
		panic(fmt.Sprintf("checker %q already registered", name))
	}

	c.checkers[name] = fn
	c.sorted = append(c.sorted, name)
	sort.Strings(c.sorted)
}

// Check runs every check, returning the worst status and the details
// of unhealthy components.
func (c *Checker) Check(ctx context.Context) (Status, map[string]error) {
	status := Healthy
	details := map[string]error{}

	c.lock.Lock()
	defer c.lock.Unlock()

	for _, name := range c.sorted {
		if s, err := c.checkers[name](ctx); s != Healthy {
			if s > status {
				status = s
			}
			if err != nil {
				details[name] = err
				log.Errorf("component %s reported %s: %v", name, s, err)
			}
		}
	}

	return status, details
}

// PoolSource lists pools. It is implemented by *manager.Manager.
type PoolSource interface {
	Pools(ctx context.Context) ([]nvm.Pool, error)
}

// PoolCheck returns a check of the health of every pool. Pools failing to
// list is non-functional.
func PoolCheck(src PoolSource) CheckFn {
	return func(ctx context.Context) (Status, error) {
		pools, err := src.Pools(ctx)
		if err != nil {
			return NonFunctional, fmt.Errorf("failed to get pools: %w", err)
		}

		status := Healthy
		var unhealthy []string
		for _, p := range pools {
			s := poolStatus(p.Health)
			if s == Healthy {
				continue
			}
			if s > status {
				status = s
			}
			unhealthy = append(unhealthy, fmt.Sprintf("%s pool %s on socket %d is %s",
				p.Type, p.UID, p.SocketID, p.Health))
		}

		if status == Healthy {
			return Healthy, nil
		}
		return status, fmt.Errorf("%s", strings.Join(unhealthy, "; "))
	}
}

func poolStatus(h nvm.PoolHealth) Status {
	switch h {
	case nvm.PoolHealthWarning, nvm.PoolHealthDegraded, nvm.PoolHealthLocked:
		return Degraded
	case nvm.PoolHealthFailed:
		return NonFunctional
	}
	return Healthy
}
