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

package taskspec

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Task constant keys understood by the docker profiles.
const (
	ConstDockerRepo = "DOCKER_REPO"
	ConstDockerTag  = "DOCKER_TAG"
	ConstDockerCmd  = "DOCKER_CMD"
	ConstDockerSSH  = "DOCKER_SSH"
)

// Platform profile names.
const (
	BatchProfileName       = "docker-nvidia-batch"
	InteractiveProfileName = "docker-network-ssh"
)

// ReconstructTemplate is the entrypoint of a batch photogrammetry run.
const ReconstructTemplate = `/opt/Meshroom_bundle/meshroom_batch --input "/job/{{.InputSubfolder}}" --output /job/{{.OutputDir}}`

// SSHDaemonTemplate is the entrypoint of an interactive session. The key
// itself travels in DOCKER_SSH and is expanded inside the container.
const SSHDaemonTemplate = `/bin/bash -c 'mkdir -p ~/.ssh /run/sshd ;` +
	`echo "${DOCKER_SSH}" >> ~/.ssh/authorized_keys ;` +
	`/usr/sbin/sshd -D'`

// OutputDir is where the batch entrypoint writes inside /job. Everything
// under it is uploaded to the result bucket.
const OutputDir = "output"

// Profile selects the platform profile, entrypoint and secrets of a task.
// It is implemented by Batch and Interactive only.
type Profile interface {
	Name() string
	constants() (map[string]string, error)
}

// Batch runs the reconstruction on a subfolder of the input bucket.
type Batch struct {
	InputSubfolder string
}

// Name returns the platform profile.
func (Batch) Name() string { return BatchProfileName }

func (b Batch) constants() (map[string]string, error) {
	sub := strings.Trim(strings.TrimSpace(b.InputSubfolder), "/")
	if sub == "" {
		return nil, fmt.Errorf("a subfolder of the input folder containing the pictures is required")
	}
	if strings.ContainsAny(sub, "\"\\$`") {
		return nil, fmt.Errorf("subfolder %q contains a character the container shell would expand", sub)
	}
	cmd, err := render("reconstruct", ReconstructTemplate, struct {
		InputSubfolder string
		OutputDir      string
	}{sub, OutputDir})
	if err != nil {
		return nil, err
	}
	return map[string]string{ConstDockerCmd: cmd}, nil
}

// Interactive starts an SSH daemon reachable through a platform forward.
type Interactive struct {
	PublicKey string
}

// Name returns the platform profile.
func (Interactive) Name() string { return InteractiveProfileName }

func (i Interactive) constants() (map[string]string, error) {
	key := strings.TrimSpace(i.PublicKey)
	if key == "" {
		return nil, fmt.Errorf("an SSH public key is required for an interactive session (set SSH_PUBLIC_KEY)")
	}
	cmd, err := render("sshd", SSHDaemonTemplate, nil)
	if err != nil {
		return nil, err
	}
	return map[string]string{ConstDockerCmd: cmd, ConstDockerSSH: key}, nil
}

// Options holds the profile-independent task parameters.
type Options struct {
	TaskName      string
	InstanceCount int
	DockerRepo    string
	DockerTag     string
	InputBucket   string
	OutputBucket  string
}

// Spec is a fully resolved task description ready to be submitted.
type Spec struct {
	Name            string
	Profile         string
	InstanceCount   int
	Constants       map[string]string
	ResourceBuckets []string
	ResultBucket    string
}

// Build resolves the task description for profile.
func Build(opts Options, profile Profile) (Spec, error) {
	if profile == nil {
		return Spec{}, fmt.Errorf("no task profile selected")
	}
	constants, err := profile.constants()
	if err != nil {
		return Spec{}, err
	}
	constants[ConstDockerRepo] = opts.DockerRepo
	constants[ConstDockerTag] = opts.DockerTag

	instances := opts.InstanceCount
	if instances == 0 {
		instances = 1
	}

	spec := Spec{
		Name:          opts.TaskName,
		Profile:       profile.Name(),
		InstanceCount: instances,
		Constants:     constants,
		ResultBucket:  opts.OutputBucket,
	}
	if opts.InputBucket != "" {
		spec.ResourceBuckets = []string{opts.InputBucket}
	}
	return spec, nil
}

func render(name, text string, data interface{}) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse %s template: %w", name, err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute %s template: %w", name, err)
	}
	return buf.String(), nil
}
