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
	"time"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/mcp"
)

func newMCPCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server connections",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show connection state per server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []mcp.ServerStatus
			if err := clientFor(cmd).get("/v1/mcp/status", &statuses); err != nil {
				return err
			}
			if len(statuses) == 0 {
				cmd.Println("No MCP servers configured.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTRANSPORT\tSTATE\tTOOLS\tUPTIME\tLAST ERROR")
			for _, s := range statuses {
				state := string(s.State)
				if !s.Enabled {
					state = "disabled"
				}
				lastErr := s.LastError
				if lastErr == "" {
					lastErr = "-"
				}
				uptime := "-"
				if s.Uptime > 0 {
					uptime = s.Uptime.Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
					s.Name, s.Transport, state, s.ToolCount, uptime, lastErr)
			}
			return w.Flush()
		},
	}

	reconnect := &cobra.Command{
		Use:   "reconnect <server>",
		Short: "Drop and re-establish a server connection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).post("/v1/mcp/reconnect/"+args[0], nil, nil); err != nil {
				return err
			}
			cmd.Printf("Reconnected %s.\n", args[0])
			return nil
		},
	}

	ping := &cobra.Command{
		Use:   "ping <server>",
		Short: "Check that a connected server is responsive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := clientFor(cmd).post("/v1/mcp/ping/"+args[0], nil, nil); err != nil {
				return err
			}
			cmd.Printf("%s is alive.\n", args[0])
			return nil
		},
	}

	refresh := &cobra.Command{
		Use:   "refresh <server>",
		Short: "Re-run tool discovery against a connected server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				ToolCount int `json:"toolCount"`
			}
			if err := clientFor(cmd).post("/v1/mcp/refresh/"+args[0], nil, &out); err != nil {
				return err
			}
			cmd.Printf("Refreshed %s: %d tools.\n", args[0], out.ToolCount)
			return nil
		},
	}

	cmd.AddCommand(status, reconnect, ping, refresh)
	return cmd
}
