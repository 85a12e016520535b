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
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/broker"
)

func newInvokeCommand() *cobra.Command {
	var (
		scopeKey string
		argsJSON string
	)

	cmd := &cobra.Command{
		Use:   "invoke <integration> <capability>",
		Short: "Invoke a capability through the broker",
		Long: `Invoke a capability against a running broker. If the capability
requires approval the prompt appears on the serve terminal.

Example:
  arion invoke postgresql-postgis sql.query --args '{"query": "SELECT version()"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var callArgs map[string]interface{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &callArgs); err != nil {
					return fmt.Errorf("--args must be a JSON object: %w", err)
				}
			}

			var res broker.Result
			err := clientFor(cmd).post("/v1/invoke", map[string]interface{}{
				"scopeKey":      scopeKey,
				"integrationId": args[0],
				"capability":    args[1],
				"args":          callArgs,
			}, &res)
			if err != nil {
				return err
			}

			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			cmd.Println(string(data))
			if res.Outcome != broker.OutcomeSuccess {
				return fmt.Errorf("invocation finished with outcome %s", res.Outcome)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&scopeKey, "scope", "cli", "Scope key for the calling session")
	cmd.Flags().StringVar(&argsJSON, "args", "", "Capability arguments as a JSON object")

	return cmd
}
