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

func init() {
	rootCmd.AddCommand(sshCmd)
}

var sshCmd = &cobra.Command{
	Use:   "ssh",
	Short: "Starts a remote instance reachable over SSH.",
	Long: `The 'ssh' command submits an interactive task running an SSH daemon and
prints the command to connect once the platform forwards the port. The key in
` + config.EnvSSHPublicKey + ` is authorized for root. The task runs until it is
cancelled on the platform; interrupting the command only stops following it.`,
	Args:         cobra.NoArgs,
	RunE:         func(cmd *cobra.Command, args []string) error { return runSSH(cmd) },
	SilenceUsage: true,
}

func runSSH(cmd *cobra.Command) error {
	return submit(cmd, func(cfg config.Config) taskspec.Profile {
		return taskspec.Interactive{PublicKey: cfg.SSHPublicKey}
	}, false)
}
