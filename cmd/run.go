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
	"meshroom-toolkit/pkg/config"
	"meshroom-toolkit/pkg/run/taskspec"

	"github.com/spf13/cobra"
)

var syncInput bool

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolVar(&syncInput, "sync-input", false, "Push the local 'in' folder to the input bucket before submitting.")
}

var runCmd = &cobra.Command{
	Use:     "reconstruct <subfolder>",
	Aliases: []string{"run"},
	Short:   "Runs a Meshroom reconstruction on a subfolder of the input bucket.",
	Long: `The 'reconstruct' command submits a batch task on a GPU instance. The
container reads the photos from <subfolder> of the input bucket and writes the
reconstruction to the output bucket. Task output is streamed until the task
ends; on success the output bucket is pulled to the local 'out' folder.`,
	Args:         cobra.ExactArgs(1),
	RunE:         runRunCmd,
	SilenceUsage: true,
}

func runRunCmd(cmd *cobra.Command, args []string) error {
	return reconstruct(cmd, args[0], syncInput)
}

func reconstruct(cmd *cobra.Command, subfolder string, syncInput bool) error {
	return submit(cmd, func(config.Config) taskspec.Profile {
		return taskspec.Batch{InputSubfolder: subfolder}
	}, syncInput)
}
