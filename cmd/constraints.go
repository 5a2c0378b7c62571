// Copyright 2026 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cmd

import (
	"meshroom-toolkit/pkg/orchestrator/meshroom"

	"github.com/spf13/cobra"
)

var outputFormat string

func init() {
	rootCmd.AddCommand(constraintsCmd)

	constraintsCmd.Flags().StringVarP(&outputFormat, "output", "o", meshroom.FormatJSON, "Output format: 'json' (one object per line) or 'yaml'.")
}

var constraintsCmd = &cobra.Command{
	Use:          "constraints",
	Short:        "Lists the hardware constraints available to the account.",
	Args:         cobra.NoArgs,
	RunE:         func(cmd *cobra.Command, args []string) error { return listConstraints(cmd, outputFormat) },
	SilenceUsage: true,
}

func listConstraints(cmd *cobra.Command, format string) error {
	o, _, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	return o.ListConstraints(cmd.Context(), cmd.OutOrStdout(), format)
}
