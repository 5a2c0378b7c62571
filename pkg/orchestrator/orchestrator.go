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

package orchestrator

import (
	"context"

	"meshroom-toolkit/pkg/run/taskspec"
)

// Sync directions understood by SyncFolder.
const (
	SyncIn  = "in"
	SyncOut = "out"
)

// JobDefinition holds what varies between two submissions. Everything
// else (image, buckets, task name) comes from the loaded configuration.
type JobDefinition struct {
	// Profile is taskspec.Batch or taskspec.Interactive.
	Profile taskspec.Profile
	// SyncInput pushes the local input folder before submitting.
	SyncInput bool
}

// Orchestrator defines the interface for submitting and following jobs.
type Orchestrator interface {
	// SubmitJob submits the job and follows it until it ends.
	SubmitJob(ctx context.Context, job JobDefinition) error
	// SyncFolder pushes ("in") or pulls ("out") a local folder; any other
	// direction is a no-op.
	SyncFolder(ctx context.Context, direction string) error
}
