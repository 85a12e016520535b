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
	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/api"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "arion",
		Short: "Capability broker for geospatial agents",
		Long: `Arion brokers capability calls from AI agents to native, MCP, and
plugin backends, enforcing connector policy and human approval along
the way.

Run 'arion serve' to start the broker, then use the other subcommands
to inspect and manage it.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("addr", api.DefaultAddr, "Address of the broker API")

	root.AddCommand(newServeCommand())
	root.AddCommand(newInvokeCommand())
	root.AddCommand(newCapabilitiesCommand())
	root.AddCommand(newRunLogCommand())
	root.AddCommand(newPolicyCommand())
	root.AddCommand(newMCPCommand())
	root.AddCommand(newApprovalsCommand())
	root.AddCommand(newSecretsCommand())
	root.AddCommand(newVersionCommand())

	return root
}
