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
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(syncCmd)
}

var syncCmd = &cobra.Command{
	Use:   "sync <in|out>",
	Short: "Synchronizes a local folder with its bucket.",
	Long: `'sync in' uploads the local 'in' folder to the input bucket, skipping files
whose content is unchanged and paths matched by .qarnotignore. 'sync out'
downloads the output bucket to the local 'out' folder. Nothing is ever deleted.
Any other direction does nothing.`,
	Args:         cobra.ExactArgs(1),
	RunE:         func(cmd *cobra.Command, args []string) error { return syncFolder(cmd, args[0]) },
	SilenceUsage: true,
}

func syncFolder(cmd *cobra.Command, direction string) error {
	o, _, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	return o.SyncFolder(cmd.Context(), direction)
}
