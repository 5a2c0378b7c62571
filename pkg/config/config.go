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

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment variable names.
const (
	EnvToken            = "QARNOT_TOKEN"
	EnvAPIURL           = "QARNOT_API_URL"
	EnvStorageURL       = "QARNOT_STORAGE_URL"
	EnvStorageAccessKey = "QARNOT_STORAGE_ACCESS_KEY"
	EnvSSHPublicKey     = "SSH_PUBLIC_KEY"
	EnvDockerRepo       = "MESHROOM_DOCKER_REPO"
	EnvDockerTag        = "MESHROOM_DOCKER_TAG"
	EnvTaskName         = "MESHROOM_TASK_NAME"
	EnvInstanceCount    = "MESHROOM_INSTANCE_COUNT"
	EnvPollTimeout      = "MESHROOM_POLL_TIMEOUT"
)

// Defaults applied when the environment does not say otherwise.
const (
	DefaultAPIURL        = "https://api.qarnot.com"
	DefaultDockerRepo    = "alicevision/meshroom"
	DefaultDockerTag     = "2025.1.0-av3.3.0-ubuntu22.04-cuda12.1.1"
	DefaultTaskName      = "meshroom-test"
	DefaultInputBucket   = "meshroom-in"
	DefaultOutputBucket  = "meshroom-out"
	DefaultInputDir      = "in"
	DefaultOutputDir     = "out"
	DefaultInstanceCount = 1
	DefaultPollTimeout   = 10 * time.Second
	DefaultEnvFile       = ".env"
)

// Config is loaded once at process start and passed to every constructor.
type Config struct {
	Token            string
	APIURL           string
	StorageURL       string // empty: ask the platform
	StorageAccessKey string // empty: use the account email
	SSHPublicKey     string
	DockerRepo       string
	DockerTag        string
	TaskName         string
	InstanceCount    int
	InputBucket      string
	OutputBucket     string
	InputDir         string
	OutputDir        string
	PollTimeout      time.Duration
}

// MissingTokenError reports that no API token could be found.
type MissingTokenError struct {
	Var string
}

func (e *MissingTokenError) Error() string {
	return fmt.Sprintf("environment variable %s is not set", e.Var)
}

// Diagnostic returns the two lines printed to stderr before exiting.
func (e *MissingTokenError) Diagnostic() []string {
	return []string{
		fmt.Sprintf("ERROR: environment variable %s is not set.", e.Var),
		fmt.Sprintf("Export %s or create a .env file with %s=value before running.", e.Var, e.Var),
	}
}

// Load reads the configuration from the process environment, falling back
// to the optional developer env file for variables the environment lacks.
// The process environment itself is left untouched.
func Load(envFile string) (Config, error) {
	fileVars := map[string]string{}
	if envFile != "" {
		vars, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			fileVars = vars
		case errors.Is(err, os.ErrNotExist):
		default:
			return Config{}, fmt.Errorf("failed to read env file %q: %w", envFile, err)
		}
	}
	return FromLookup(func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(fileVars[key])
	})
}

// FromLookup builds a Config from an arbitrary key lookup.
func FromLookup(lookup func(string) string) (Config, error) {
	cfg := Config{
		Token:            lookup(EnvToken),
		APIURL:           orDefault(lookup(EnvAPIURL), DefaultAPIURL),
		StorageURL:       lookup(EnvStorageURL),
		StorageAccessKey: lookup(EnvStorageAccessKey),
		SSHPublicKey:     lookup(EnvSSHPublicKey),
		DockerRepo:       orDefault(lookup(EnvDockerRepo), DefaultDockerRepo),
		DockerTag:        orDefault(lookup(EnvDockerTag), DefaultDockerTag),
		TaskName:         orDefault(lookup(EnvTaskName), DefaultTaskName),
		InstanceCount:    DefaultInstanceCount,
		InputBucket:      DefaultInputBucket,
		OutputBucket:     DefaultOutputBucket,
		InputDir:         DefaultInputDir,
		OutputDir:        DefaultOutputDir,
		PollTimeout:      DefaultPollTimeout,
	}

	if cfg.Token == "" {
		return Config{}, &MissingTokenError{Var: EnvToken}
	}

	if v := lookup(EnvInstanceCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return Config{}, fmt.Errorf("invalid %s %q: expected a positive integer", EnvInstanceCount, v)
		}
		cfg.InstanceCount = n
	}
	if v := lookup(EnvPollTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, fmt.Errorf("invalid %s %q: expected a positive duration", EnvPollTimeout, v)
		}
		cfg.PollTimeout = d
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	return cfg, nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}
