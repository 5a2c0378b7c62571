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

// Package cmd defines the meshroom-toolkit command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"meshroom-toolkit/pkg/config"
	"meshroom-toolkit/pkg/logging"
	"meshroom-toolkit/pkg/orchestrator"
	"meshroom-toolkit/pkg/orchestrator/meshroom"
	"meshroom-toolkit/pkg/run/taskspec"

	"github.com/spf13/cobra"
)

// Process exit statuses.
const (
	ExitOK           = 0
	ExitFailure      = 1
	ExitMissingToken = 2
)

var (
	envFile string
	verbose bool

	// Single-flag actions kept from the original scripts.
	listConstraintsFlag bool
	sshFlag             bool
	syncFolderFlag      string
	meshroomTaskFlag    string
)

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", config.DefaultEnvFile, "Optional file of KEY=value lines read for variables missing from the environment.")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages.")

	rootCmd.Flags().BoolVar(&listConstraintsFlag, "list-constraints", false, "List the hardware constraints available to the account.")
	rootCmd.Flags().BoolVar(&sshFlag, "ssh", false, "Start an interactive SSH session on a remote instance.")
	rootCmd.Flags().StringVar(&syncFolderFlag, "sync-folder", "", "Synchronize a local folder with its bucket: 'in' pushes, 'out' pulls.")
	rootCmd.Flags().StringVar(&meshroomTaskFlag, "meshroom-task", "", "Run the reconstruction on this subfolder of the input bucket.")
}

var rootCmd = &cobra.Command{
	Use:   "meshroom-toolkit",
	Short: "Runs Meshroom photogrammetry tasks on the Qarnot platform.",
	Long: `meshroom-toolkit submits Meshroom reconstructions to Qarnot GPU instances,
follows them until they end and brings the results back locally. It can also
open an SSH session on a remote instance and synchronize the local 'in' and
'out' folders with their buckets.

The API token is read from QARNOT_TOKEN, either exported or set in the env file.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.SetOutput(cmd.ErrOrStderr())
		logging.SetVerbose(verbose)
	},
	RunE:          runRoot,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// runRoot dispatches the single-flag actions. The first flag set wins.
func runRoot(cmd *cobra.Command, args []string) error {
	switch {
	case listConstraintsFlag:
		return listConstraints(cmd, meshroom.FormatJSON)
	case sshFlag:
		return runSSH(cmd)
	case syncFolderFlag != "":
		return syncFolder(cmd, syncFolderFlag)
	case meshroomTaskFlag != "":
		return reconstruct(cmd, meshroomTaskFlag, false)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "No action specified. Use --help for usage information.")
	return nil
}

// newOrchestrator loads the configuration and connects to the platform.
func newOrchestrator(cmd *cobra.Command) (*meshroom.Orchestrator, config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, config.Config{}, err
	}
	o, err := meshroom.NewOrchestrator(cfg, meshroom.WithOutput(cmd.OutOrStdout(), cmd.ErrOrStderr()))
	if err != nil {
		return nil, config.Config{}, err
	}
	return o, cfg, nil
}

// submit runs a job whose profile may depend on the loaded configuration.
func submit(cmd *cobra.Command, profileFor func(config.Config) taskspec.Profile, syncInput bool) error {
	o, cfg, err := newOrchestrator(cmd)
	if err != nil {
		return err
	}
	job := orchestrator.JobDefinition{Profile: profileFor(cfg), SyncInput: syncInput}
	logging.Info("Preparing %s task '%s' on %s", job.Profile.Name(), cfg.TaskName, cfg.APIURL)
	return o.SubmitJob(cmd.Context(), job)
}

// Execute runs the command line and returns the process exit status.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return exitCode(rootCmd.ExecuteContext(ctx), rootCmd.ErrOrStderr())
}

func exitCode(err error, stderr io.Writer) int {
	if err == nil {
		return ExitOK
	}
	var missing *config.MissingTokenError
	if errors.As(err, &missing) {
		for _, line := range missing.Diagnostic() {
			fmt.Fprintln(stderr, line)
		}
		return ExitMissingToken
	}
	logging.Error("%v", err)
	return ExitFailure
}
