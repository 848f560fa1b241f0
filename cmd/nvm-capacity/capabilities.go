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

package main

import (
	"github.com/spf13/cobra"

	"github.com/intel/nvm-capacity/pkg/nvm/pcat"
)

func newCapabilitiesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "capabilities",
		Short: "Show driver, platform and DIMM SKU capabilities and the resolved features",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			caps, err := a.mgr.Capabilities(cmd.Context())
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), caps)
		},
	}
}

func newPcatCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "pcat",
		Short: "Decode the platform capabilities table",
		Long: `Decode the platform capabilities table from the transport root, or
from sysfs if --sysfs is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			buf, err := a.transport.PlatformCapabilities(cmd.Context())
			if err != nil {
				return err
			}
			pc, err := pcat.Parse(buf)
			if err != nil {
				return err
			}
			return a.print(cmd.OutOrStdout(), pc)
		},
	}
}
