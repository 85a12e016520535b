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
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/broker"
)

func newRunLogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runlog",
		Short: "Inspect recent capability runs",
	}

	var limit int
	show := &cobra.Command{
		Use:   "show",
		Short: "Show recent runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			var records []broker.RunRecord
			path := fmt.Sprintf("/v1/runlog?limit=%d", limit)
			if err := clientFor(cmd).get(path, &records); err != nil {
				return err
			}
			if len(records) == 0 {
				cmd.Println("No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tINTEGRATION\tCAPABILITY\tBACKEND\tOUTCOME\tDURATION\tMESSAGE")
			for _, r := range records {
				backendName := r.Backend
				if backendName == "" {
					backendName = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%dms\t%s\n",
					r.StartedAt.Format("15:04:05"),
					r.IntegrationID, r.Capability, backendName,
					r.Outcome, r.DurationMs, r.Message)
			}
			return w.Flush()
		},
	}
	show.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to show (0 for all)")

	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear the run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).post("/v1/runlog/clear", nil, nil); err != nil {
				return err
			}
			cmd.Println("Run log cleared.")
			return nil
		},
	}

	cmd.AddCommand(show, clear)
	return cmd
}
