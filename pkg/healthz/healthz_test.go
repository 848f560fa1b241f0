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

package healthz_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	. "github.com/intel/nvm-capacity/pkg/healthz"
	"github.com/intel/nvm-capacity/pkg/nvm"
)

type pools struct {
	pools []nvm.Pool
	err   error
}

func (p *pools) Pools(context.Context) ([]nvm.Pool, error) {
	return p.pools, p.err
}

func TestPoolCheck(t *testing.T) {
	type testCase struct {
		name   string
		health []nvm.PoolHealth
		err    error
		expect Status
	}

	for _, tc := range []*testCase{
		{
			name:   "no pools",
			expect: Healthy,
		},
		{
			name:   "normal",
			health: []nvm.PoolHealth{nvm.PoolHealthNormal, nvm.PoolHealthNormal},
			expect: Healthy,
		},
		{
			name:   "warning",
			health: []nvm.PoolHealth{nvm.PoolHealthNormal, nvm.PoolHealthWarning},
			expect: Degraded,
		},
		{
			name:   "locked",
			health: []nvm.PoolHealth{nvm.PoolHealthLocked},
			expect: Degraded,
		},
		{
			name:   "failed wins",
			health: []nvm.PoolHealth{nvm.PoolHealthFailed, nvm.PoolHealthDegraded},
			expect: NonFunctional,
		},
		{
			name:   "pool listing fails",
			err:    nvm.ErrNotSupported,
			expect: NonFunctional,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			src := &pools{err: tc.err}
			for i, h := range tc.health {
				src.pools = append(src.pools, nvm.Pool{Type: nvm.PoolTypePersistent, SocketID: i, Health: h})
			}

			status, err := PoolCheck(src)(context.Background())
			require.Equal(t, tc.expect, status)
			if tc.expect == Healthy {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
			}
		})
	}
}

func TestServe(t *testing.T) {
	c := NewChecker(0)
	healthy := true
	c.Register("pools", func(context.Context) (Status, error) {
		if healthy {
			return Healthy, nil
		}
		return Degraded, errors.New("pool degraded")
	})
	c.Register("store", func(context.Context) (Status, error) { return Healthy, nil })
	require.Panics(t, func() {
		c.Register("store", func(context.Context) (Status, error) { return Healthy, nil })
	})

	mux := http.NewServeMux()
	c.Setup(mux)

	get := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		return rec
	}

	rec := get()
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	healthy = false
	rec = get()
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "degraded")
	require.Contains(t, rec.Body.String(), "pools: pool degraded")
}
