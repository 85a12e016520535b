// Copyright 2025 GeoRetina
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
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/capability"
)

func newCapabilitiesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "capabilities",
		Short: "Manage the capability catalog",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered capabilities",
		RunE: func(cmd *cobra.Command, args []string) error {
			var caps []capability.Registration
			if err := clientFor(cmd).get("/v1/capabilities", &caps); err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "INTEGRATION\tCAPABILITY\tBACKENDS\tSENSITIVITY")
			for _, c := range caps {
				kinds := make([]string, len(c.Backends))
				for i, k := range c.Backends {
					kinds[i] = string(k)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					c.IntegrationID, c.Capability, strings.Join(kinds, ","), c.Sensitivity)
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(list)
	return cmd
}
