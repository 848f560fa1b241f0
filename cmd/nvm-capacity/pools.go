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
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

func newPoolsCmd(a *app) *cobra.Command {
	var verbose bool

	cmd := &cobra.Command{
		Use:   "pools",
		Short: "Show the memory pools of the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pools, err := a.mgr.Pools(cmd.Context())
			if err != nil {
				return err
			}
			if verbose || a.jsonOut {
				return a.print(cmd.OutOrStdout(), pools)
			}
			return printPools(cmd.OutOrStdout(), pools)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "show pool DIMMs and interleave sets")

	return cmd
}

func printPools(w io.Writer, pools []nvm.Pool) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "UID\tTYPE\tSOCKET\tCAPACITY\tFREE\tHEALTH\tDIMMS")
	for _, p := range pools {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n", p.UID, p.Type, p.SocketID,
			humanize.IBytes(p.Capacity), humanize.IBytes(p.FreeCapacity), p.Health, len(p.Dimms))
	}
	return tw.Flush()
}

func newDumpCmd(a *app) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "dump [dimm-uid...]",
		Short: "Dump the current configuration of DIMMs to a file loadable as goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return a.mgr.DumpConfig(cmd.Context(), w, args...)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "file to dump to, stdout by default")

	return cmd
}

func newLoadCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "load <file> [dimm-uid...]",
		Short: "Create config goals from a dumped configuration",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			if err := a.mgr.LoadConfig(cmd.Context(), f, args[1:]...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "loaded config goals from %s, reboot to apply\n", args[0])
			return nil
		},
	}
}
