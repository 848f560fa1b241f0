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
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"

	"github.com/intel/nvm-capacity/pkg/nvm"
)

func newGoalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goal",
		Short: "Manage capacity configuration goals",
	}
	cmd.AddCommand(
		newGoalCreateCmd(a),
		newGoalShowCmd(a),
		newGoalDeleteCmd(a),
	)
	return cmd
}

type goalFlags struct {
	file      string
	memory    string
	appDirect string
	setID     uint16
	ways      int
	channel   string
	imc       string
	dimms     []string
	mirror    bool
}

func newGoalCreateCmd(a *app) *cobra.Command {
	f := &goalFlags{}

	cmd := &cobra.Command{
		Use:   "create <dimm-uid>",
		Short: "Create a config goal for a DIMM",
		Long: `Create a config goal for a DIMM, to be applied by the BIOS on the next boot.

The goal is either read from a YAML file or built from flags. Sizes are given
in GiB, with a unit like 128GiB, or as "remaining" for all remaining capacity.

Example:
  nvm-capacity goal create 8089-a2-1234-00000001 --memory 64GiB
  nvm-capacity goal create 8089-a2-1234-00000001 --appdirect remaining \
      --ways 2 --dimms 8089-a2-1234-00000001,8089-a2-1234-00000002
  nvm-capacity goal create 8089-a2-1234-00000001 --file goal.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := f.goal()
			if err != nil {
				return err
			}
			if err := a.mgr.CreateGoal(cmd.Context(), args[0], g); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created config goal for DIMM %s, reboot to apply\n", args[0])
			return nil
		},
	}

	f.addFlags(cmd.Flags())
	cmd.MarkFlagsMutuallyExclusive("file", "memory")
	cmd.MarkFlagsMutuallyExclusive("file", "appdirect")

	return cmd
}

func (f *goalFlags) addFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&f.file, "file", "f", "", "YAML file with the goal")
	flags.StringVar(&f.memory, "memory", "", "memory mode size")
	flags.StringVar(&f.appDirect, "appdirect", "", "app direct size")
	flags.Uint16Var(&f.setID, "set-id", 1, "app direct interleave set ID")
	flags.IntVar(&f.ways, "ways", 1, "number of DIMMs in the app direct interleave set")
	flags.StringVar(&f.channel, "channel-size", "4KB", "channel interleave size")
	flags.StringVar(&f.imc, "imc-size", "4KB", "memory controller interleave size")
	flags.StringSliceVar(&f.dimms, "dimms", nil, "UIDs of the DIMMs of the app direct interleave set")
	flags.BoolVar(&f.mirror, "mirror", false, "mirror the app direct interleave set")
}

func (f *goalFlags) goal() (*nvm.ConfigGoal, error) {
	if f.file != "" {
		data, err := os.ReadFile(f.file)
		if err != nil {
			return nil, err
		}
		g := &nvm.ConfigGoal{}
		if err := yaml.UnmarshalStrict(data, g); err != nil {
			return nil, fmt.Errorf("invalid goal %s: %w", f.file, err)
		}
		return g, nil
	}

	if f.memory == "" && f.appDirect == "" {
		return nil, fmt.Errorf("either --file, --memory or --appdirect is required")
	}

	g := &nvm.ConfigGoal{}
	if f.memory != "" {
		size, err := parseSize(f.memory)
		if err != nil {
			return nil, err
		}
		g.MemorySize = size
	}

	if f.appDirect != "" {
		size, err := parseSize(f.appDirect)
		if err != nil {
			return nil, err
		}
		ways, err := nvm.WaysForCount(f.ways)
		if err != nil {
			return nil, err
		}
		channel, err := nvm.ParseInterleaveSize(f.channel)
		if err != nil {
			return nil, err
		}
		imc, err := nvm.ParseInterleaveSize(f.imc)
		if err != nil {
			return nil, err
		}
		g.AppDirect = []nvm.AppDirectExtent{
			{
				Size:     size,
				SetID:    f.setID,
				Mirrored: f.mirror,
				Interleave: nvm.InterleaveFormat{
					Ways:    ways,
					Channel: channel,
					IMC:     imc,
				},
				Dimms: f.dimms,
			},
		}
	}

	return g, nil
}

// parseSize parses a size into GiB. A bare number is taken as GiB.
func parseSize(s string) (uint64, error) {
	switch strings.ToLower(s) {
	case "remaining", "all":
		return nvm.SizeAllRemaining, nil
	}
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return n, nil
	}
	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if bytes%nvm.BytesPerGiB != 0 {
		return 0, fmt.Errorf("invalid size %q: not a multiple of 1 GiB", s)
	}
	return bytes / nvm.BytesPerGiB, nil
}

func newGoalShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [dimm-uid...]",
		Short: "Show the config goals of DIMMs, or of every DIMM with one",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			uids := args
			if len(uids) == 0 {
				status, err := a.mgr.GoalStatus(ctx)
				if err != nil {
					return err
				}
				for uid := range status {
					uids = append(uids, uid)
				}
				sort.Strings(uids)
			}

			goals := map[string]*nvm.ConfigGoal{}
			for _, uid := range uids {
				g, err := a.mgr.Goal(ctx, uid)
				if err != nil {
					return err
				}
				goals[uid] = g
			}
			return a.print(cmd.OutOrStdout(), goals)
		},
	}
}

func newGoalDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <dimm-uid>...",
		Short: "Delete the config goals of DIMMs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, uid := range args {
				if err := a.mgr.DeleteGoal(cmd.Context(), uid); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted config goal of DIMM %s\n", uid)
			}
			return nil
		},
	}
}
