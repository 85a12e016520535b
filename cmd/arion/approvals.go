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
)

func newApprovalsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approvals",
		Short: "Manage standing capability approvals",
	}

	var scopeKey string
	grant := &cobra.Command{
		Use:   "grant <integration> <capability>",
		Short: "Record a standing approval",
		Long: `Record an approval without waiting for a dialog. Mode "session"
covers the scope until it ends; "always" covers every scope until
cleared.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, _ := cmd.Flags().GetString("mode")
			err := clientFor(cmd).post("/v1/approvals/grant", map[string]interface{}{
				"scopeKey":      scopeKey,
				"integrationId": args[0],
				"capability":    args[1],
				"mode":          mode,
			}, nil)
			if err != nil {
				return err
			}
			cmd.Printf("Granted %s/%s (%s).\n", args[0], args[1], mode)
			return nil
		},
	}
	grant.Flags().StringVar(&scopeKey, "scope", "cli", "Scope key the grant applies to")
	grant.Flags().String("mode", "session", "Grant mode: session or always")

	var revokeScope string
	revoke := &cobra.Command{
		Use:   "revoke <integration> <capability>",
		Short: "Remove a single standing approval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := clientFor(cmd).post("/v1/approvals/revoke", map[string]interface{}{
				"scopeKey":      revokeScope,
				"integrationId": args[0],
				"capability":    args[1],
			}, nil)
			if err != nil {
				return err
			}
			cmd.Printf("Revoked %s/%s.\n", args[0], args[1])
			return nil
		},
	}
	revoke.Flags().StringVar(&revokeScope, "scope", "cli", "Scope key the grant was recorded under")

	var clearScope string
	clear := &cobra.Command{
		Use:   "clear",
		Short: "Clear recorded approvals",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := clientFor(cmd).post("/v1/approvals/clear", map[string]interface{}{
				"scopeKey": clearScope,
			}, nil)
			if err != nil {
				return err
			}
			if clearScope == "" {
				cmd.Println("All approvals cleared.")
			} else {
				cmd.Printf("Approvals cleared for scope %s.\n", clearScope)
			}
			return nil
		},
	}
	clear.Flags().StringVar(&clearScope, "scope", "", "Only clear this scope (default: all scopes)")

	cmd.AddCommand(grant, revoke, clear)
	return cmd
}
