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
	"gopkg.in/yaml.v3"

	"github.com/GeoRetina/arion/internal/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Inspect and edit the connector policy",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Show the active policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg policy.Config
			if err := clientFor(cmd).get("/v1/policy", &cfg); err != nil {
				return err
			}
			data, err := yaml.Marshal(&cfg)
			if err != nil {
				return err
			}
			cmd.Print(string(data))
			return nil
		},
	}

	path := &cobra.Command{
		Use:   "path",
		Short: "Print the policy file location",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := policy.PolicyPath()
			if err != nil {
				return err
			}
			cmd.Println(p)
			return nil
		},
	}

	cmd.AddCommand(show, path)
	return cmd
}
