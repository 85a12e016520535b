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
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GeoRetina/arion/internal/secrets"
)

func newSecretsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secrets",
		Short: "Manage integration credentials",
		Long: `Store and manage credentials used by native connectors, such as a
PostGIS password. Secrets live in the system keychain when one is
available, otherwise in a file readable only by your user.`,
	}

	set := &cobra.Command{
		Use:   "set <integration> <field>",
		Short: "Store a credential",
		Long: `Store a credential value for an integration field. The value is read
from stdin so it never appears in shell history.

Example:
  echo -n "hunter2" | arion secrets set postgresql-postgis password`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.Key(args[0], args[1])
			if err != nil {
				return err
			}

			reader := bufio.NewReader(cmd.InOrStdin())
			value, err := reader.ReadString('\n')
			if err != nil && value == "" {
				return fmt.Errorf("reading secret from stdin: %w", err)
			}
			value = strings.TrimRight(value, "\r\n")
			if value == "" {
				return fmt.Errorf("secret value is empty")
			}

			store, err := secrets.Open(nil)
			if err != nil {
				return err
			}
			if err := store.Set(cmd.Context(), key, value); err != nil {
				return err
			}
			cmd.Printf("Stored %s/%s in %s store.\n", args[0], args[1], store.Name())
			return nil
		},
	}

	get := &cobra.Command{
		Use:   "get <integration> <field>",
		Short: "Print a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.Key(args[0], args[1])
			if err != nil {
				return err
			}
			store, err := secrets.Open(nil)
			if err != nil {
				return err
			}
			value, err := store.Get(cmd.Context(), key)
			if errors.Is(err, secrets.ErrSecretNotFound) {
				return fmt.Errorf("no secret stored for %s/%s", args[0], args[1])
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stdout, value)
			return nil
		},
	}

	del := &cobra.Command{
		Use:   "delete <integration> <field>",
		Short: "Remove a credential",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := secrets.Key(args[0], args[1])
			if err != nil {
				return err
			}
			store, err := secrets.Open(nil)
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), key); err != nil {
				return err
			}
			cmd.Printf("Deleted %s/%s.\n", args[0], args[1])
			return nil
		},
	}

	cmd.AddCommand(set, get, del)
	return cmd
}
